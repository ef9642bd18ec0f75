package migrate

import (
	"testing"
	"testing/fstest"

	"github.com/jmerrifield20/ArthaIntegrity/migrations"
)

func TestVersionFromFile(t *testing.T) {
	tests := []struct {
		name    string
		want    int64
		wantErr bool
	}{
		{"001_commitments.up.sql", 1, false},
		{"012_more.up.sql", 12, false},
		{"init.up.sql", 0, true},
		{"abc_init.up.sql", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := VersionFromFile(tt.name)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("got %d, want %d", got, tt.want)
			}
		})
	}
}

func TestList_ordersUpFilesOnly(t *testing.T) {
	fsys := fstest.MapFS{
		"010_later.up.sql":    {Data: []byte("SELECT 1")},
		"002_second.up.sql":   {Data: []byte("SELECT 1")},
		"002_second.down.sql": {Data: []byte("SELECT 1")},
		"001_first.up.sql":    {Data: []byte("SELECT 1")},
		"README.md":           {Data: []byte("docs")},
	}

	got, err := List(fsys)
	if err != nil {
		t.Fatal(err)
	}
	want := []int64{1, 2, 10}
	if len(got) != len(want) {
		t.Fatalf("got %d migrations, want %d", len(got), len(want))
	}
	for i, m := range got {
		if m.Version != want[i] {
			t.Errorf("migration %d: version %d, want %d", i, m.Version, want[i])
		}
	}
}

func TestList_duplicateVersion(t *testing.T) {
	fsys := fstest.MapFS{
		"001_a.up.sql": {Data: []byte("SELECT 1")},
		"001_b.up.sql": {Data: []byte("SELECT 1")},
	}
	if _, err := List(fsys); err == nil {
		t.Error("expected duplicate version error")
	}
}

func TestList_embeddedSchema(t *testing.T) {
	got, err := List(migrations.FS)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) < 3 {
		t.Fatalf("expected at least 3 embedded migrations, got %d", len(got))
	}
	if got[0].Name != "001_commitments.up.sql" {
		t.Errorf("first migration: got %s", got[0].Name)
	}
}
