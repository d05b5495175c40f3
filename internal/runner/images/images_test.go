package images

import (
	"context"
	"errors"
	"testing"

	"github.com/docker/docker/api/types/image"
)

type fakeAPI struct {
	summaries []image.Summary
	err       error
}

func (f *fakeAPI) ImageList(context.Context, image.ListOptions) ([]image.Summary, error) {
	return f.summaries, f.err
}

func TestListSortsAndDropsDanglingTags(t *testing.T) {
	inv := New(&fakeAPI{summaries: []image.Summary{
		{ID: "sha256:old", RepoTags: []string{"nginx:1.25"}, Size: 100, Created: 10},
		{ID: "sha256:dangling", RepoTags: []string{"<none>:<none>"}, Size: 5, Created: 30},
		{ID: "sha256:new", RepoTags: []string{"redis:7", "redis:latest"}, Size: 200, Created: 20},
	}})

	got, err := inv.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d images, want 3", len(got))
	}
	wantOrder := []string{"sha256:dangling", "sha256:new", "sha256:old"}
	for i, id := range wantOrder {
		if got[i].ID != id {
			t.Errorf("got[%d].ID = %q, want %q", i, got[i].ID, id)
		}
	}
	if len(got[0].Tags) != 0 {
		t.Errorf("dangling image should have no tags, got %v", got[0].Tags)
	}
	if len(got[1].Tags) != 2 || got[1].Size != 200 {
		t.Errorf("got %+v", got[1])
	}
}

func TestListPropagatesError(t *testing.T) {
	boom := errors.New("daemon unreachable")
	inv := New(&fakeAPI{err: boom})
	if _, err := inv.List(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected daemon error, got %v", err)
	}
}

func TestCloseWithoutCloser(t *testing.T) {
	if err := New(&fakeAPI{}).Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}
