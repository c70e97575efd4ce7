package mcperr_test

import (
	"errors"
	"testing"

	"github.com/seuros/solid-mcp-go/mcperr"
)

func TestWrapStoreNilIsNil(t *testing.T) {
	if err := mcperr.WrapStore("op", nil); err != nil {
		t.Fatalf("WrapStore(op, nil) = %v, want nil", err)
	}
}

func TestWrapStoreUnwraps(t *testing.T) {
	sentinel := errors.New("boom")
	err := mcperr.WrapStore("insert_batch", sentinel)

	if !errors.Is(err, sentinel) {
		t.Fatalf("errors.Is(%v, sentinel) = false, want true", err)
	}

	var storeErr *mcperr.StoreError
	if !errors.As(err, &storeErr) {
		t.Fatalf("errors.As into *StoreError failed for %v", err)
	}
	if storeErr.Op != "insert_batch" {
		t.Errorf("Op = %q, want %q", storeErr.Op, "insert_batch")
	}
}

func TestNewConfigError(t *testing.T) {
	err := mcperr.NewConfigError("bad store url: %s", "nonsense://")
	want := "solid-mcp: config error: bad store url: nonsense://"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}
