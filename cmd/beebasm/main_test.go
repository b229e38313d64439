package main

import "testing"

func TestParseDoSpec(t *testing.T) {
	load, exec, err := parseDoSpec("4096,4100")
	if err != nil {
		t.Fatal(err)
	}
	if load != 4096 || exec != 4100 {
		t.Errorf("got load=%d exec=%d", load, exec)
	}
}

func TestParseDoSpecRejectsMissingComma(t *testing.T) {
	if _, _, err := parseDoSpec("4096"); err == nil {
		t.Fatal("expected an error")
	}
}

func TestExpandAbbreviationsUniquePrefix(t *testing.T) {
	got, err := expandAbbreviations([]string{"--verb", "--cpu=1"})
	if err != nil {
		t.Fatal(err)
	}
	if got[0] != "--verbose" {
		t.Errorf("got %q, want --verbose", got[0])
	}
	if got[1] != "--cpu=1" {
		t.Errorf("got %q, want --cpu=1 unchanged", got[1])
	}
}

func TestExpandAbbreviationsLeavesUnknownFlagAlone(t *testing.T) {
	got, err := expandAbbreviations([]string{"--bogus"})
	if err != nil {
		t.Fatal(err)
	}
	if got[0] != "--bogus" {
		t.Errorf("got %q, want unchanged --bogus", got[0])
	}
}
