package parser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/FACorreiaa/skyparts-market/pkg/storage"
)

// memBlobs is an in-memory BlobReader
type memBlobs map[string][]byte

func (m memBlobs) ReadFile(_ context.Context, path string) ([]byte, error) {
	data, ok := m[path]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return data, nil
}

func (m memBlobs) Stat(_ context.Context, path string) (storage.FileStat, error) {
	data, ok := m[path]
	if !ok {
		return storage.FileStat{}, storage.ErrNotFound
	}
	return storage.FileStat{Size: int64(len(data))}, nil
}

// fakeCompleter returns a canned response and records the prompt
type fakeCompleter struct {
	response string
	err      error
	prompts  []string
}

func (f *fakeCompleter) Complete(_ context.Context, prompt string) (string, error) {
	f.prompts = append(f.prompts, prompt)
	return f.response, f.err
}

func newTestParser(cfg Config, blobs memBlobs, ext Completer) *Parser {
	return New(cfg, blobs, ext, nil)
}

func TestParse_CSV(t *testing.T) {
	ctx := context.Background()

	t.Run("well-formed file yields N rows with H keys", func(t *testing.T) {
		blobs := memBlobs{"f.csv": []byte("P/N,Desc,Qty,Price\n601R14501-2,Flap Assembly,1,15000\n65-02050-5,Actuator,2,800\n")}
		p := newTestParser(DefaultConfig(), blobs, nil)

		res, err := p.Parse(ctx, "f.csv", "text/csv", Options{})
		require.NoError(t, err)

		assert.Equal(t, []string{"P/N", "Desc", "Qty", "Price"}, res.Headers)
		require.Len(t, res.Rows, 2)
		for _, row := range res.Rows {
			assert.Len(t, row, 4)
		}
		assert.Equal(t, "601R14501-2", res.Rows[0]["P/N"])
		assert.Equal(t, "15000", res.Rows[0]["Price"])
		assert.Equal(t, 2, res.TotalRows)
		assert.Empty(t, res.Warnings)
		assert.Equal(t, FormatCSV, res.Format)
	})

	t.Run("byte-order-mark does not change headers", func(t *testing.T) {
		body := "Part Number,Qty\nA-1,2\n"
		blobs := memBlobs{
			"plain.csv": []byte(body),
			"bom.csv":   append([]byte{0xEF, 0xBB, 0xBF}, body...),
		}
		p := newTestParser(DefaultConfig(), blobs, nil)

		plain, err := p.Parse(ctx, "plain.csv", "text/csv", Options{})
		require.NoError(t, err)
		bom, err := p.Parse(ctx, "bom.csv", "text/csv", Options{})
		require.NoError(t, err)

		assert.Equal(t, plain.Headers, bom.Headers)
		assert.Equal(t, plain.Rows, bom.Rows)
	})

	t.Run("column count mismatch pads row and warns once", func(t *testing.T) {
		blobs := memBlobs{"f.csv": []byte("a,b,c\n1,2,3\n4\n7,8,9\n")}
		p := newTestParser(DefaultConfig(), blobs, nil)

		res, err := p.Parse(ctx, "f.csv", "text/csv", Options{})
		require.NoError(t, err)

		require.Len(t, res.Rows, 3)
		assert.Equal(t, map[string]string{"a": "4", "b": "", "c": ""}, res.Rows[1])
		require.Len(t, res.Warnings, 1)
		assert.Contains(t, res.Warnings[0], "row 2")
	})

	t.Run("longer rows are cut to header width", func(t *testing.T) {
		blobs := memBlobs{"f.csv": []byte("a,b\n1,2,3\n")}
		p := newTestParser(DefaultConfig(), blobs, nil)

		res, err := p.Parse(ctx, "f.csv", "text/csv", Options{})
		require.NoError(t, err)
		assert.Equal(t, map[string]string{"a": "1", "b": "2"}, res.Rows[0])
		assert.Len(t, res.Warnings, 1)
	})

	t.Run("blank lines and blank records are skipped", func(t *testing.T) {
		blobs := memBlobs{"f.csv": []byte("\n\n,,\nP/N,Qty\n\nA-1,1\n,\nB-2,3\n")}
		p := newTestParser(DefaultConfig(), blobs, nil)

		res, err := p.Parse(ctx, "f.csv", "text/csv", Options{})
		require.NoError(t, err)
		assert.Equal(t, []string{"P/N", "Qty"}, res.Headers)
		assert.Len(t, res.Rows, 2)
	})

	t.Run("semicolon delimiter is sniffed", func(t *testing.T) {
		blobs := memBlobs{"f.csv": []byte("P/N;Desc;Price\nA-1;Valve, check;1.234,50\n")}
		p := newTestParser(DefaultConfig(), blobs, nil)

		res, err := p.Parse(ctx, "f.csv", "text/csv; charset=utf-8", Options{})
		require.NoError(t, err)
		assert.Equal(t, "Valve, check", res.Rows[0]["Desc"])
		assert.Equal(t, "1.234,50", res.Rows[0]["Price"])
	})

	t.Run("duplicate and empty headers are made unique", func(t *testing.T) {
		blobs := memBlobs{"f.csv": []byte("Qty,,Qty\n1,2,3\n")}
		p := newTestParser(DefaultConfig(), blobs, nil)

		res, err := p.Parse(ctx, "f.csv", "text/csv", Options{})
		require.NoError(t, err)
		assert.Equal(t, []string{"Qty", "Column 2", "Qty_2"}, res.Headers)
		assert.Equal(t, "3", res.Rows[0]["Qty_2"])
	})

	t.Run("row cap truncates with warning", func(t *testing.T) {
		var sb strings.Builder
		sb.WriteString("P/N,Qty\n")
		for i := 0; i < 5; i++ {
			fmt.Fprintf(&sb, "PN-%d,%d\n", i, i)
		}
		cfg := DefaultConfig()
		cfg.MaxRows = 3
		p := newTestParser(cfg, memBlobs{"f.csv": []byte(sb.String())}, nil)

		res, err := p.Parse(ctx, "f.csv", "text/csv", Options{})
		require.NoError(t, err)
		assert.Len(t, res.Rows, 3)
		assert.Equal(t, 5, res.TotalRows)
		require.Len(t, res.Warnings, 1)
		assert.Contains(t, res.Warnings[0], "only the first 3")
	})

	t.Run("header-only file has zero rows", func(t *testing.T) {
		p := newTestParser(DefaultConfig(), memBlobs{"f.csv": []byte("P/N,Qty\n")}, nil)
		res, err := p.Parse(ctx, "f.csv", "text/csv", Options{})
		require.NoError(t, err)
		assert.Empty(t, res.Rows)
	})

	t.Run("empty file fails", func(t *testing.T) {
		p := newTestParser(DefaultConfig(), memBlobs{"f.csv": []byte("\n\n")}, nil)
		_, err := p.Parse(ctx, "f.csv", "text/csv", Options{})
		assert.ErrorIs(t, err, ErrNoHeader)
	})
}

func TestParse_Limits(t *testing.T) {
	ctx := context.Background()

	t.Run("unsupported type names the type", func(t *testing.T) {
		p := newTestParser(DefaultConfig(), memBlobs{"f.zip": []byte("PK")}, nil)
		_, err := p.Parse(ctx, "f.zip", "application/zip", Options{})
		require.ErrorIs(t, err, ErrUnsupportedType)
		assert.Contains(t, err.Error(), "application/zip")
	})

	t.Run("oversized file is rejected before reading", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.MaxFileSize = 10
		p := newTestParser(cfg, memBlobs{"f.csv": []byte("P/N,Qty\nA-1,1\n")}, nil)
		_, err := p.Parse(ctx, "f.csv", "text/csv", Options{})
		assert.ErrorIs(t, err, ErrFileTooLarge)
	})

	t.Run("missing blob", func(t *testing.T) {
		p := newTestParser(DefaultConfig(), memBlobs{}, nil)
		_, err := p.Parse(ctx, "nope.csv", "text/csv", Options{})
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})
}

func buildWorkbook(t *testing.T, sheets map[string][][]interface{}, order []string) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()

	for i, name := range order {
		if i == 0 {
			require.NoError(t, f.SetSheetName("Sheet1", name))
		} else {
			_, err := f.NewSheet(name)
			require.NoError(t, err)
		}
		for r, row := range sheets[name] {
			if row == nil {
				continue
			}
			cell, err := excelize.CoordinatesToCellName(1, r+1)
			require.NoError(t, err)
			require.NoError(t, f.SetSheetRow(name, cell, &row))
		}
	}

	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	return buf.Bytes()
}

func TestParse_Spreadsheet(t *testing.T) {
	ctx := context.Background()
	const xlsx = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

	data := buildWorkbook(t, map[string][][]interface{}{
		"Inventory": {
			{"Part Number", "Description", "Qty"},
			nil,
			{"601R14501-2", "Flap Assembly", "1"},
			{"65-02050-5", "Actuator"},
		},
		"Notes": {
			{"Note"},
			{"internal"},
		},
	}, []string{"Inventory", "Notes"})

	t.Run("first sheet, blank rows dropped, short rows padded", func(t *testing.T) {
		p := newTestParser(DefaultConfig(), memBlobs{"f.xlsx": data}, nil)
		res, err := p.Parse(ctx, "f.xlsx", xlsx, Options{})
		require.NoError(t, err)

		assert.Equal(t, []string{"Part Number", "Description", "Qty"}, res.Headers)
		require.Len(t, res.Rows, 2)
		assert.Equal(t, "", res.Rows[1]["Qty"])
		for _, row := range res.Rows {
			assert.Len(t, row, 3)
		}
		assert.Empty(t, res.Warnings)
	})

	t.Run("named sheet", func(t *testing.T) {
		p := newTestParser(DefaultConfig(), memBlobs{"f.xlsx": data}, nil)
		res, err := p.Parse(ctx, "f.xlsx", xlsx, Options{SheetName: "notes"})
		require.NoError(t, err)
		assert.Equal(t, []string{"Note"}, res.Headers)
	})

	t.Run("missing sheet lists available sheets", func(t *testing.T) {
		p := newTestParser(DefaultConfig(), memBlobs{"f.xlsx": data}, nil)
		_, err := p.Parse(ctx, "f.xlsx", xlsx, Options{SheetName: "Stock"})
		require.ErrorIs(t, err, ErrSheetNotFound)
		assert.Contains(t, err.Error(), "Inventory, Notes")
	})

	t.Run("corrupt workbook", func(t *testing.T) {
		p := newTestParser(DefaultConfig(), memBlobs{"f.xlsx": []byte("not a zip")}, nil)
		_, err := p.Parse(ctx, "f.xlsx", xlsx, Options{})
		assert.Error(t, err)
	})
}

func TestParse_PDF(t *testing.T) {
	p := newTestParser(DefaultConfig(), memBlobs{"f.pdf": []byte("definitely not a pdf")}, nil)
	_, err := p.Parse(context.Background(), "f.pdf", "application/pdf", Options{})
	assert.Error(t, err)
}

func TestParse_Document(t *testing.T) {
	ctx := context.Background()
	const pages = "application/vnd.apple.pages"

	doc := []byte("\x00\x01\x02PK\x03\x04   Part Number    Qty\x00\x00\x00\x00601R14501-2     4\x00\x00\x00\xff")

	t.Run("AI extraction with fenced JSON", func(t *testing.T) {
		ext := &fakeCompleter{response: "```json\n{\"headers\":[\"Part Number\",\"Qty\"],\"rows\":[{\"Part Number\":\"601R14501-2\",\"Qty\":4}]}\n```"}
		p := newTestParser(DefaultConfig(), memBlobs{"f.pages": doc}, ext)

		res, err := p.Parse(ctx, "f.pages", pages, Options{})
		require.NoError(t, err)

		assert.True(t, res.AIExtracted)
		assert.Equal(t, []string{"Part Number", "Qty"}, res.Headers)
		require.Len(t, res.Rows, 1)
		assert.Equal(t, "4", res.Rows[0]["Qty"])
		assert.Contains(t, res.Warnings, aiVerifyWarning)
		require.Len(t, ext.prompts, 1)
		assert.Contains(t, ext.prompts[0], "601R14501-2")
	})

	t.Run("positional rows are accepted", func(t *testing.T) {
		ext := &fakeCompleter{response: `{"headers":["a","b"],"rows":[["1","2"],["3"]]}`}
		p := newTestParser(DefaultConfig(), memBlobs{"f.pages": doc}, ext)

		res, err := p.Parse(ctx, "f.pages", pages, Options{})
		require.NoError(t, err)
		require.Len(t, res.Rows, 2)
		assert.Equal(t, "", res.Rows[1]["b"])
	})

	t.Run("AI failure is a hard parse failure", func(t *testing.T) {
		ext := &fakeCompleter{err: errors.New("upstream timeout")}
		p := newTestParser(DefaultConfig(), memBlobs{"f.pages": doc}, ext)

		_, err := p.Parse(ctx, "f.pages", pages, Options{})
		require.ErrorIs(t, err, ErrAIExtraction)
		assert.Contains(t, err.Error(), "upstream timeout")
	})

	t.Run("non-conforming AI output", func(t *testing.T) {
		ext := &fakeCompleter{response: "Sorry, I could not find a table."}
		p := newTestParser(DefaultConfig(), memBlobs{"f.pages": doc}, ext)

		_, err := p.Parse(ctx, "f.pages", pages, Options{})
		assert.ErrorIs(t, err, ErrAIExtraction)
	})

	t.Run("no extractor configured", func(t *testing.T) {
		p := newTestParser(DefaultConfig(), memBlobs{"f.pages": doc}, nil)
		_, err := p.Parse(ctx, "f.pages", pages, Options{})
		assert.ErrorIs(t, err, ErrAIExtraction)
	})

	t.Run("too little text", func(t *testing.T) {
		ext := &fakeCompleter{response: `{"headers":["a"],"rows":[]}`}
		p := newTestParser(DefaultConfig(), memBlobs{"f.pages": []byte("\x00\x01ab\x00\x00")}, ext)

		_, err := p.Parse(ctx, "f.pages", pages, Options{})
		assert.ErrorIs(t, err, ErrNoText)
		assert.Empty(t, ext.prompts)
	})

	t.Run("long text is truncated with warning", func(t *testing.T) {
		ext := &fakeCompleter{response: `{"headers":["a"],"rows":[{"a":"1"}]}`}
		cfg := DefaultConfig()
		cfg.MaxAITextChars = 20
		long := []byte(strings.Repeat("PART-123 QTY 4\n", 50))
		p := newTestParser(cfg, memBlobs{"f.pages": long}, ext)

		res, err := p.Parse(ctx, "f.pages", pages, Options{})
		require.NoError(t, err)
		assert.Contains(t, strings.Join(res.Warnings, "\n"), "truncated to 20 characters")
		require.Len(t, ext.prompts, 1)
		assert.NotContains(t, ext.prompts[0], strings.Repeat("PART-123 QTY 4\n", 3))
	})
}

func TestExtractPrintableText(t *testing.T) {
	text := extractPrintableText([]byte("\x00\x00Part Number\x00\x00\x00\x00\x00Qty\x01\x01\x01x\x02"))
	assert.Equal(t, "Part Number\nQty", text)
}

func TestFormatForMIME(t *testing.T) {
	tests := []struct {
		mime string
		want Format
		ok   bool
	}{
		{"text/csv", FormatCSV, true},
		{"TEXT/CSV; charset=utf-8", FormatCSV, true},
		{"application/vnd.ms-excel", FormatSpreadsheet, true},
		{"application/pdf", FormatPDF, true},
		{"application/vnd.apple.pages", FormatDocument, true},
		{"image/png", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.mime, func(t *testing.T) {
			got, ok := FormatForMIME(tt.mime)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMIMEForFilename(t *testing.T) {
	for name, want := range map[string]Format{
		"stock.csv":         FormatCSV,
		"Q3 Inventory.XLSX": FormatSpreadsheet,
		"legacy.xls":        FormatSpreadsheet,
		"capabilities.pdf":  FormatPDF,
		"list.pages":        FormatDocument,
	} {
		mt, ok := MIMEForFilename(name)
		require.True(t, ok, name)
		got, ok := FormatForMIME(mt)
		require.True(t, ok, name)
		assert.Equal(t, want, got, name)
	}

	_, ok := MIMEForFilename("photo.png")
	assert.False(t, ok)
}

func TestDetectTable(t *testing.T) {
	tests := []struct {
		name   string
		text   string
		ok     bool
		header []string
	}{
		{
			name:   "tab delimited",
			text:   "P/N\tDesc\tQty\nA-1\tValve\t2\nB-2\tPump\t1\n",
			ok:     true,
			header: []string{"P/N", "Desc", "Qty"},
		},
		{
			name:   "space aligned",
			text:   "Part Number    Description     Qty\n601R14501-2    Flap Assembly   1\n65-02050-5     Actuator        2\n",
			ok:     true,
			header: []string{"Part Number", "Description", "Qty"},
		},
		{
			name: "prose",
			text: "Dear customer,\nplease find our stock list attached.\n",
			ok:   false,
		},
		{
			name: "inconsistent widths",
			text: "A  B  C  D  E\nx\ny\nz  w  v  u  t\n",
			ok:   false,
		},
		{
			name: "single line",
			text: "A\tB\n",
			ok:   false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			records, ok := detectTable(tt.text)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.header, records[0])
			}
		})
	}
}
