package core

import (
	"errors"
	"fmt"
	"testing"
)

func TestStatusFromError(t *testing.T) {
	tests := []struct {
		err  error
		want Status
	}{
		{nil, StatusSuccess},
		{fmt.Errorf("read: %w", ErrBadAlignment), StatusBadParams},
		{fmt.Errorf("read: %w", ErrOutOfRange), StatusBadParams},
		{ErrBadLength, StatusBadParams},
		{fmt.Errorf("open: %w", ErrNotFound), StatusBadParams},
		{fmt.Errorf("program: %w: %w", ErrIOFailure, errors.New("nand timeout")), StatusIOFailure},
		{errors.New("boom"), StatusFailure},
	}
	for _, tt := range tests {
		if got := StatusFromError(tt.err); got != tt.want {
			t.Errorf("StatusFromError(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestStrings(t *testing.T) {
	if got := StatusNoSpace.String(); got != "NoSpace" {
		t.Errorf("StatusNoSpace = %q", got)
	}
	if got := Status(0x80000009).String(); got != "Status(0x80000009)" {
		t.Errorf("unknown status = %q", got)
	}
	if got := ModeImage.String(); got != "WholeImage" {
		t.Errorf("ModeImage = %q", got)
	}
	if got := OpVerifyTarget.String(); got != "verify-target" {
		t.Errorf("OpVerifyTarget = %q", got)
	}
}
