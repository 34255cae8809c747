package postgres

import (
	"database/sql"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"

	"slotsync/backend/internal/store"
)

func TestMapWriteError(t *testing.T) {
	boom := errors.New("boom")

	tests := []struct {
		name string
		err  error
		want error
	}{
		{name: "nil", err: nil, want: nil},
		{name: "unique violation", err: &pgconn.PgError{Code: "23505"}, want: store.ErrConflict},
		{name: "wrapped unique violation", err: fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"}), want: store.ErrConflict},
		{name: "exclusion violation", err: &pgconn.PgError{Code: "23P01"}, want: store.ErrConflict},
		{name: "foreign key violation", err: &pgconn.PgError{Code: "23503"}},
		{name: "other", err: boom, want: boom},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := mapWriteError(tt.err)
			if tt.want == nil && tt.err != nil {
				if got != tt.err {
					t.Fatalf("mapWriteError = %v, want original error", got)
				}
				return
			}
			if !errors.Is(got, tt.want) && got != tt.want {
				t.Fatalf("mapWriteError = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMapReadError(t *testing.T) {
	if err := mapReadError(sql.ErrNoRows); err != store.ErrNotFound {
		t.Fatalf("mapReadError(ErrNoRows) = %v, want %v", err, store.ErrNotFound)
	}
	if err := mapReadError(fmt.Errorf("scan: %w", sql.ErrNoRows)); err != store.ErrNotFound {
		t.Fatalf("wrapped ErrNoRows = %v, want %v", err, store.ErrNotFound)
	}
	boom := errors.New("boom")
	if err := mapReadError(boom); err != boom {
		t.Fatalf("mapReadError(boom) = %v, want boom", err)
	}
}
