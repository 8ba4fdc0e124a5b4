package money

import (
	"errors"
	"testing"
)

func TestParse(t *testing.T) {
	cases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "100", want: "100"},
		{in: "0.1", want: "0.1"},
		{in: "1234.5678", want: "1234.5678"},
		{in: "-5", want: "-5"},
		{in: "", wantErr: true},
		{in: "abc", wantErr: true},
		{in: "1.2.3", wantErr: true},
		{in: "NaN", wantErr: true},
	}
	for _, c := range cases {
		got, err := Parse(c.in)
		if c.wantErr {
			if !errors.Is(err, ErrInvalidAmount) {
				t.Errorf("Parse(%q) err=%v, want ErrInvalidAmount", c.in, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("Parse(%q) unexpected err=%v", c.in, err)
			continue
		}
		if got.String() != c.want {
			t.Errorf("Parse(%q)=%s, want %s", c.in, got.String(), c.want)
		}
	}
}

// Binary floats would make 0.1+0.2 miss 0.3; the decimal path must not.
func TestAddSubExact(t *testing.T) {
	a := MustParse("0.1")
	b := MustParse("0.2")
	if got := Add(a, b); got.String() != "0.3" {
		t.Fatalf("0.1+0.2=%s, want 0.3", got.String())
	}
	if got := Sub(MustParse("1000.00"), MustParse("999.99")); got.String() != "0.01" {
		t.Fatalf("1000.00-999.99=%s, want 0.01", got.String())
	}
}

func TestCmp(t *testing.T) {
	if Cmp(MustParse("49.99"), MustParse("50")) != -1 {
		t.Error("49.99 should compare less than 50")
	}
	if Cmp(MustParse("50.00"), MustParse("50")) != 0 {
		t.Error("50.00 should compare equal to 50")
	}
	if Cmp(MustParse("50.01"), MustParse("50")) != 1 {
		t.Error("50.01 should compare greater than 50")
	}
}

func TestIsPositive(t *testing.T) {
	if IsPositive(MustParse("0")) {
		t.Error("zero is not positive")
	}
	if IsPositive(MustParse("-1")) {
		t.Error("-1 is not positive")
	}
	if !IsPositive(MustParse("0.0001")) {
		t.Error("0.0001 is positive")
	}
}

func TestMustParsePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("MustParse should panic on malformed input")
		}
	}()
	MustParse("not-a-number")
}
