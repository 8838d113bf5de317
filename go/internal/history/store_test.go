package history

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()
	store, err := Open(ctx, filepath.Join(t.TempDir(), "erm.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSaveAndListSessions(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	first, err := store.SaveSession(ctx, SessionRecord{
		EndedAt:          time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC),
		Result:           "victory",
		RoomDurationSec:  3600,
		TimeRemainingSec: 420,
		HintsGiven:       3,
	})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if !strings.HasPrefix(first.ID, "session-") {
		t.Fatalf("generated id = %q", first.ID)
	}

	second, err := store.SaveSession(ctx, SessionRecord{
		EndedAt: time.Date(2026, 3, 2, 21, 30, 0, 0, time.UTC),
		Result:  "defeat",
	})
	if err != nil {
		t.Fatalf("save: %v", err)
	}

	sessions, err := store.ListSessions(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("got %d sessions", len(sessions))
	}
	if sessions[0].ID != first.ID || sessions[1].ID != second.ID {
		t.Fatalf("sessions out of order: %+v", sessions)
	}
	if sessions[0].Result != "victory" || sessions[0].HintsGiven != 3 || sessions[0].TimeRemainingSec != 420 {
		t.Fatalf("record mangled: %+v", sessions[0])
	}
	if !sessions[0].EndedAt.Equal(first.EndedAt) {
		t.Fatalf("ended at = %v, want %v", sessions[0].EndedAt, first.EndedAt)
	}
}

func TestSaveSessionFillsEndTime(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	rec, err := store.SaveSession(ctx, SessionRecord{Result: "aborted"})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if rec.EndedAt.IsZero() {
		t.Fatalf("end time not filled")
	}
}

func TestDeleteAndClearSessions(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	rec, err := store.SaveSession(ctx, SessionRecord{Result: "victory"})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := store.SaveSession(ctx, SessionRecord{Result: "defeat"}); err != nil {
		t.Fatalf("save: %v", err)
	}

	if err := store.DeleteSession(ctx, rec.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := store.DeleteSession(ctx, rec.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second delete = %v, want ErrNotFound", err)
	}

	if err := store.ClearSessions(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	sessions, err := store.ListSessions(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(sessions) != 0 {
		t.Fatalf("sessions after clear: %+v", sessions)
	}
}

func TestHintListRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	want := []string{"Check under the rug.", "Try the UV flashlight.", "Count the paintings."}
	if err := store.ReplaceHints(ctx, want); err != nil {
		t.Fatalf("replace: %v", err)
	}

	got, err := store.Hints(ctx)
	if err != nil {
		t.Fatalf("hints: %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("hints = %v, want %v", got, want)
	}

	if err := store.UpdateHint(ctx, 1, "Try the drawer again."); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := store.UpdateHint(ctx, 9, "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("update out of range = %v", err)
	}

	if err := store.DeleteHint(ctx, 0); err != nil {
		t.Fatalf("delete: %v", err)
	}
	got, err = store.Hints(ctx)
	if err != nil {
		t.Fatalf("hints: %v", err)
	}
	want = []string{"Try the drawer again.", "Count the paintings."}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("hints after edit = %v, want %v", got, want)
	}

	if err := store.DeleteHint(ctx, 5); !errors.Is(err, ErrNotFound) {
		t.Fatalf("delete out of range = %v", err)
	}
}

func TestSettingsKV(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	if _, err := store.Setting(ctx, "background"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing setting = %v, want ErrNotFound", err)
	}

	if err := store.SetSetting(ctx, "background", []byte("img-1")); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := store.SetSetting(ctx, "background", []byte("img-2")); err != nil {
		t.Fatalf("overwrite: %v", err)
	}

	value, err := store.Setting(ctx, "background")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(value) != "img-2" {
		t.Fatalf("value = %q", value)
	}

	if err := store.DeleteSetting(ctx, "background"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := store.DeleteSetting(ctx, "background"); err != nil {
		t.Fatalf("deleting absent key should be silent, got %v", err)
	}
	if _, err := store.Setting(ctx, "background"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("deleted setting = %v, want ErrNotFound", err)
	}
}

func TestStoreSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "erm.db")

	store, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := store.SaveSession(ctx, SessionRecord{Result: "victory"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	sessions, err := reopened.ListSessions(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(sessions) != 1 || sessions[0].Result != "victory" {
		t.Fatalf("sessions after reopen = %+v", sessions)
	}
}
