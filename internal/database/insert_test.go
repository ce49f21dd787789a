package database

import (
	"database/sql"
	"errors"
	"strings"
	"testing"

	"syncservice/internal/engine"
)

func TestInsertFailure(t *testing.T) {
	insertErr := errors.New("constraint failed")
	lookupErr := errors.New("connection reset")

	tests := []struct {
		name         string
		current      int64
		lookupErr    error
		wantConflict bool
		wantWrapped  []error
		wantText     string
	}{
		{
			name:         "row exists",
			current:      3,
			wantConflict: true,
		},
		{
			name:        "no row",
			lookupErr:   sql.ErrNoRows,
			wantWrapped: []error{insertErr},
		},
		{
			name:        "lookup failed",
			lookupErr:   lookupErr,
			wantWrapped: []error{insertErr, lookupErr},
			wantText:    "checking current version",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := insertFailure(7, insertErr, tt.current, tt.lookupErr)
			if got := errors.Is(err, engine.ErrVersionConflict); got != tt.wantConflict {
				t.Fatalf("errors.Is(ErrVersionConflict) = %v, want %v (err = %v)", got, tt.wantConflict, err)
			}
			for _, want := range tt.wantWrapped {
				if !errors.Is(err, want) {
					t.Errorf("error %v does not wrap %v", err, want)
				}
			}
			if tt.wantText != "" && !strings.Contains(err.Error(), tt.wantText) {
				t.Errorf("error = %q, want it to mention %q", err, tt.wantText)
			}
		})
	}
}
