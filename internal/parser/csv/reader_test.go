package csv

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/text/encoding/charmap"
)

const header = "id,parent_id,display_name,name,description,type,age_name\n"

func TestReader_BOMAndLines(t *testing.T) {
	t.Parallel()

	in := "\uFEFF" + header +
		"1,NULL,Cancer,cancer,,binary,\n" +
		"\n" +
		"2,1,\"Lung\nCancer\",lung,x,ordinal,age\n" +
		"3,1,Skin,skin,y,binary,age\n"
	r, err := NewReader(strings.NewReader(in), Options{})
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	rows, err := r.ReadAll(context.Background())
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if diff := cmp.Diff([]string{"id", "parent_id", "display_name", "name", "description", "type", "age_name"}, r.Header()); diff != "" {
		t.Fatalf("header (-want +got):\n%s", diff)
	}
	var lines []int
	for _, row := range rows {
		lines = append(lines, row.Line)
	}
	if diff := cmp.Diff([]int{2, 4, 6}, lines); diff != "" {
		t.Fatalf("lines (-want +got):\n%s", diff)
	}
	if rows[1].Fields[2] != "Lung\nCancer" {
		t.Fatalf("quoted field = %q", rows[1].Fields[2])
	}
}

func TestReader_Encoding(t *testing.T) {
	t.Parallel()

	body, err := charmap.Windows1252.NewEncoder().String(header + "1,NULL,Sjögren,sjogren,,binary,\n")
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	r, err := NewReader(strings.NewReader(body), Options{Encoding: "windows-1252"})
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	row, err := r.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if row.Fields[2] != "Sjögren" {
		t.Fatalf("decoded %q", row.Fields[2])
	}

	if _, err := NewReader(strings.NewReader(""), Options{Encoding: "klingon"}); err == nil {
		t.Fatalf("expected error for unknown encoding")
	}
}

func TestReader_Options(t *testing.T) {
	t.Parallel()

	r, _ := NewReader(strings.NewReader("1;2;a \"b\" c\n"), Options{Comma: ';', LazyQuotes: true, NoHeader: true})
	row, err := r.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if diff := cmp.Diff(Row{Line: 1, Fields: []string{"1", "2", `a "b" c`}}, row); diff != "" {
		t.Fatalf("row (-want +got):\n%s", diff)
	}
}

func TestReader_Empty(t *testing.T) {
	t.Parallel()

	r, _ := NewReader(strings.NewReader(""), Options{})
	rows, err := r.ReadAll(context.Background())
	if err != nil || len(rows) != 0 {
		t.Fatalf("ReadAll(empty) = %v, %v", rows, err)
	}
}

func TestReader_Cancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r, _ := NewReader(strings.NewReader(header+"1,,a,a,,binary,\n"), Options{})
	if _, err := r.ReadAll(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestStripHeaderBOM(t *testing.T) {
	t.Parallel()

	got := StripHeaderBOM([]string{"\uFEFFid", "name"})
	if got[0] != "id" {
		t.Fatalf("StripHeaderBOM = %q", got)
	}
	if StripHeaderBOM(nil) != nil {
		t.Fatalf("nil header should stay nil")
	}
}
