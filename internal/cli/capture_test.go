package cli

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/example/minder/internal/storage/sqlite"
)

func setCaptureEnv(t *testing.T) (eventsPath, projectionsPath string) {
	t.Helper()
	dir := t.TempDir()
	eventsPath = filepath.Join(dir, "events.db")
	projectionsPath = filepath.Join(dir, "projections.db")
	t.Setenv("MINDER_EVENTS_DB_PATH", eventsPath)
	t.Setenv("MINDER_PROJECTIONS_DB_PATH", projectionsPath)
	return eventsPath, projectionsPath
}

// capturedID pulls the entity id out of "recorded note <id>: <title>" output.
func capturedID(t *testing.T, output string) string {
	t.Helper()
	fields := strings.Fields(output)
	if len(fields) < 3 {
		t.Fatalf("unexpected capture output %q", output)
	}
	return strings.TrimSuffix(fields[2], ":")
}

func TestNoteCommandRecordsNote(t *testing.T) {
	_, projectionsPath := setCaptureEnv(t)

	var out bytes.Buffer
	cmd := noteCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"Call the plumber", "--content", "kitchen sink drips", "--tag", "home"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("note command: %v", err)
	}
	if !strings.HasPrefix(out.String(), "recorded note ") {
		t.Fatalf("unexpected output %q", out.String())
	}

	projections, err := sqlite.OpenProjections(projectionsPath)
	if err != nil {
		t.Fatalf("open projections: %v", err)
	}
	defer projections.Close()

	rec, err := projections.GetNote(context.Background(), capturedID(t, out.String()))
	if err != nil {
		t.Fatalf("get note: %v", err)
	}
	if rec.Title != "Call the plumber" || rec.Content != "kitchen sink drips" {
		t.Fatalf("unexpected note record: %+v", rec)
	}
	if len(rec.Tags) != 1 || rec.Tags[0] != "home" {
		t.Fatalf("unexpected tags: %v", rec.Tags)
	}
}

func TestTrackCommandRecordsTrack(t *testing.T) {
	_, projectionsPath := setCaptureEnv(t)

	var out bytes.Buffer
	cmd := trackCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"The Left Hand of Darkness", "--status", "reading"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("track command: %v", err)
	}

	projections, err := sqlite.OpenProjections(projectionsPath)
	if err != nil {
		t.Fatalf("open projections: %v", err)
	}
	defer projections.Close()

	rec, err := projections.GetTrack(context.Background(), capturedID(t, out.String()))
	if err != nil {
		t.Fatalf("get track: %v", err)
	}
	if rec.Title != "The Left Hand of Darkness" || rec.Status != "reading" {
		t.Fatalf("unexpected track record: %+v", rec)
	}
}

func TestNoteCommandRequiresTitle(t *testing.T) {
	setCaptureEnv(t)

	cmd := noteCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{})
	if err := cmd.Execute(); err == nil {
		t.Fatal("expected an error without a title argument")
	}
}
