package basic

import (
	"bytes"
	"strings"
	"testing"
)

func TestExportPrintHi(t *testing.T) {
	mem := make([]byte, 32768)
	body := []byte{0x0d, 0x00, 0x0a, 0x0a, 0xf1, 0x20, 0x22, 0x48, 0x49, 0x22, 0x0d, 0xff}
	copy(mem[0x1900:], body)

	var out bytes.Buffer
	if err := Export(&out, mem, 0x1900); err != nil {
		t.Fatal(err)
	}
	got := strings.TrimSpace(out.String())
	if got != `10PRINT "HI"` {
		t.Errorf("got %q", got)
	}
}

func TestImportPrintHi(t *testing.T) {
	src := strings.NewReader("10 PRINT \"HI\"\n")
	got, err := Import(src, 0x1900)
	if err != nil {
		t.Fatal(err)
	}
	want := []byte{0x0d, 0x00, 0x0a, 0x0a, 0xf1, 0x20, 0x22, 0x48, 0x49, 0x22, 0x0d, 0xff}
	if !bytes.Equal(got, want) {
		t.Errorf("got % X, want % X", got, want)
	}
}

func TestImportGotoLineNumberEncoding(t *testing.T) {
	src := strings.NewReader("100GOTO100\n")
	got, err := Import(src, 0x1900)
	if err != nil {
		t.Fatal(err)
	}
	// Body: GOTO token, then the 3-byte encoded form of 100 per §4.5:
	// 100 ^ 0x4040 = 0x4024, packed as 44 64 40.
	idx := bytes.IndexByte(got, 0xe5)
	if idx < 0 {
		t.Fatalf("GOTO token not found in %X", got)
	}
	body := got[idx:]
	want := []byte{0xe5, 0x8d, 0x44, 0x64, 0x40}
	if !bytes.HasPrefix(body, want) {
		t.Errorf("got %X, want prefix %X", body, want)
	}
}

func TestImportExportRoundTrip(t *testing.T) {
	src := "10PRINT\"HI\"\n20GOTO10\n"
	tok, err := Import(strings.NewReader(src), 0x1900)
	if err != nil {
		t.Fatal(err)
	}

	mem := make([]byte, 32768)
	copy(mem[0x1900:], tok)

	var out bytes.Buffer
	if err := Export(&out, mem, 0x1900); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "PRINT") || !strings.Contains(out.String(), "GOTO") {
		t.Errorf("round trip lost keywords: %q", out.String())
	}
}

func TestImportOutOfSequenceLineNumbers(t *testing.T) {
	src := strings.NewReader("20PRINT1\n10PRINT2\n")
	if _, err := Import(src, 0x1900); err == nil {
		t.Fatal("expected out-of-sequence error")
	}
}

func TestImportAutoNumbersUnlabelledLines(t *testing.T) {
	src := strings.NewReader("PRINT1\nPRINT2\n")
	got, err := Import(src, 0x1900)
	if err != nil {
		t.Fatal(err)
	}
	if got[1] != 0x00 || got[2] != 0x01 {
		t.Errorf("expected first auto line number 1, got % X", got[:3])
	}
}

func TestImportRemCopiesRestOfLineVerbatim(t *testing.T) {
	src := strings.NewReader("10REM PRINT \"not tokenised\"\n")
	got, err := Import(src, 0x1900)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Contains(got, []byte(`PRINT "not tokenised"`)) {
		t.Errorf("expected REM body verbatim, got %q", got)
	}
}

func TestImportStarCommandNotTerminatedByColon(t *testing.T) {
	src := strings.NewReader("10*FX 1:PRINT1\n")
	got, err := Import(src, 0x1900)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Contains(got, []byte("*FX 1:PRINT1")) {
		t.Errorf("expected colon absorbed into * command, got %q", got)
	}
}

func TestImportPseudoVariableBumpedAtStartOfStatement(t *testing.T) {
	src := strings.NewReader("10PAGE=&2000\n")
	got, err := Import(src, 0x1900)
	if err != nil {
		t.Fatal(err)
	}
	// PAGE as a pseudo-variable statement tokenises to 0x90+0x40=0xd0.
	if !bytes.Contains(got, []byte{0xd0}) {
		t.Errorf("expected pseudo-variable token 0xd0, got %X", got)
	}
}

func TestImportProgramTooLarge(t *testing.T) {
	src := strings.NewReader("10PRINT1\n")
	if _, err := Import(src, 32761); err == nil {
		t.Fatal("expected program too large error")
	}
}

func TestMatchKeywordFirstMatchWins(t *testing.T) {
	tok, tokLen, ok := matchKeyword([]byte("COLOUR 1"))
	if !ok {
		t.Fatal("expected a match")
	}
	// COLOR is listed before COLOUR but its 5-char prefix doesn't
	// match "COLOU", so COLOUR itself wins here.
	if tok != 0xfb || tokLen != 6 {
		t.Errorf("got token %02X len %d", tok, tokLen)
	}
}

func TestMatchKeywordDottedAbbreviation(t *testing.T) {
	tok, tokLen, ok := matchKeyword([]byte("P.1"))
	if !ok {
		t.Fatal("expected a match")
	}
	if tok != 0xf1 || tokLen != 2 {
		t.Errorf("expected PRINT token 0xf1 consuming \"P.\", got %02X len %d", tok, tokLen)
	}
}
