package wire

import "testing"

func TestParseReply_SingleLine(t *testing.T) {
	r, err := ParseReply("250 OK")
	if err != nil {
		t.Fatalf("ParseReply: %v", err)
	}
	if r.Code != 250 || len(r.Lines) != 1 || r.Lines[0] != "OK" {
		t.Errorf("ParseReply() = %+v", r)
	}
}

func TestParseReply_MultiLine(t *testing.T) {
	r, err := ParseReply("250-mail.example.com Hello\n250-SIZE 10485760\n250 HELP")
	if err != nil {
		t.Fatalf("ParseReply: %v", err)
	}
	want := []string{"mail.example.com Hello", "SIZE 10485760", "HELP"}
	if r.Code != 250 || len(r.Lines) != 3 {
		t.Fatalf("ParseReply() = %+v", r)
	}
	for i, w := range want {
		if r.Lines[i] != w {
			t.Errorf("Lines[%d] = %q, want %q", i, r.Lines[i], w)
		}
	}
}

func TestParseReply_MismatchedCodes(t *testing.T) {
	_, err := ParseReply("250-one\n251 two")
	if err == nil {
		t.Error("expected error for mismatched codes")
	}
}
