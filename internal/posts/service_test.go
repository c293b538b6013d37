package posts_test

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/inkwell/internal/apperr"
	"github.com/starford/inkwell/internal/contents"
	"github.com/starford/inkwell/internal/models"
	"github.com/starford/inkwell/internal/postindex"
	"github.com/starford/inkwell/internal/posts"
	"github.com/starford/inkwell/internal/reconcile"
	"github.com/starford/inkwell/internal/testutil"
)

func newService(t *testing.T, store contents.Store, date string) *posts.Service {
	t.Helper()
	return posts.NewService(store, postindex.New(store, "posts.json"), posts.Config{
		Now: testutil.FixedClock(t, date),
	})
}

func slugs(ps []models.Post) []string {
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = p.Slug
	}
	return out
}

func TestCreateThenDeleteScenario(t *testing.T) {
	fake := testutil.NewGitHub(t, "tok")
	fake.Seed("posts.json", []byte(`[{"slug":"2024-01-01-a","title":"a","date":"2024-01-01","category":"技术","tags":[],"excerpt":"x…"}]`))
	fake.Seed("posts/2024-01-01-a.md", []byte("# a"))
	store := testutil.GitHubStore(fake)
	svc := newService(t, store, "2024-06-01")
	ctx := context.Background()

	created, err := svc.Create(ctx, posts.Input{Title: "b", Content: "hello **b**", Tags: []string{" go ", ""}})
	require.NoError(t, err)
	assert.Equal(t, "2024-06-01-b", created.Slug)
	assert.Equal(t, "2024-06-01", created.Date)
	assert.Equal(t, "技术", created.Category)
	assert.Equal(t, []string{"go"}, created.Tags)
	assert.Equal(t, "hello b…", created.Excerpt)

	snap, err := svc.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-06-01-b", "2024-01-01-a"}, slugs(snap.Value))

	require.NoError(t, svc.Delete(ctx, "2024-01-01-a"))
	snap, err = svc.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-06-01-b"}, slugs(snap.Value))
	_, ok := fake.File("posts/2024-01-01-a.md")
	assert.False(t, ok)
	md, ok := fake.File("posts/2024-06-01-b.md")
	require.True(t, ok)
	assert.Equal(t, "hello **b**", string(md))
}

func TestCreateValidationMakesNoCalls(t *testing.T) {
	fake := testutil.NewGitHub(t, "tok")
	svc := newService(t, testutil.GitHubStore(fake), "2024-06-01")
	ctx := context.Background()

	_, err := svc.Create(ctx, posts.Input{Title: "  ", Content: "x"})
	var verr *apperr.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "title", verr.Field)

	_, err = svc.Create(ctx, posts.Input{Title: "t", Content: ""})
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "content", verr.Field)

	_, err = svc.Create(ctx, posts.Input{Title: "a/b", Content: "x"})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	assert.Equal(t, 0, fake.Writes("posts.json"))
}

func TestCreateRejectsDuplicateSlug(t *testing.T) {
	_, store := testutil.FSStore(t)
	svc := newService(t, store, "2024-06-01")
	ctx := context.Background()

	_, err := svc.Create(ctx, posts.Input{Title: "same", Content: "one"})
	require.NoError(t, err)
	_, err = svc.Create(ctx, posts.Input{Title: "same", Content: "two"})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	d, err := svc.Get(ctx, "2024-06-01-same")
	require.NoError(t, err)
	assert.Equal(t, "one", d.Content)
}

func TestUpdateKeepsOriginalDate(t *testing.T) {
	_, store := testutil.FSStore(t)
	ctx := context.Background()
	created, err := newService(t, store, "2024-01-01").Create(ctx, posts.Input{Title: "a", Content: "v1"})
	require.NoError(t, err)

	later := newService(t, store, "2025-03-09")
	updated, err := later.Update(ctx, created, posts.Input{Title: "a renamed", Category: "生活", Content: "v2"})
	require.NoError(t, err)
	assert.Equal(t, created.Slug, updated.Slug)
	assert.Equal(t, "2024-01-01", updated.Date)

	d, err := later.Get(ctx, created.Slug)
	require.NoError(t, err)
	assert.True(t, d.Indexed)
	assert.Equal(t, "v2", d.Content)
	assert.Equal(t, "a renamed", d.Post.Title)
	assert.Equal(t, "2024-01-01", d.Post.Date)
	assert.Equal(t, "生活", d.Post.Category)
}

func TestUpdateToleratesDrift(t *testing.T) {
	_, store := testutil.FSStore(t)
	svc := newService(t, store, "2024-06-01")
	ctx := context.Background()

	// Neither the record nor the file exist: both are created.
	orig := models.Post{Slug: "2023-05-05-lost", Date: "2023-05-05"}
	_, err := svc.Update(ctx, orig, posts.Input{Title: "lost", Content: "found"})
	require.NoError(t, err)

	snap, err := svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, snap.Value, 1)
	assert.Equal(t, "2023-05-05", snap.Value[0].Date)
}

func TestIndexFailureLeavesOrphanMarkdown(t *testing.T) {
	fake := testutil.NewGitHub(t, "tok")
	svc := newService(t, testutil.GitHubStore(fake), "2024-06-01")
	fake.FailNext(http.MethodPut, "posts.json", http.StatusConflict, "posts.json does not match")

	_, err := svc.Create(context.Background(), posts.Input{Title: "c", Content: "body"})
	assert.ErrorIs(t, err, apperr.ErrConflict)

	_, ok := fake.File("posts/2024-06-01-c.md")
	assert.True(t, ok, "markdown is written first and not rolled back")
	_, ok = fake.File("posts.json")
	assert.False(t, ok)
}

func TestDeleteToleratesMissingFile(t *testing.T) {
	_, store := testutil.FSStore(t)
	ctx := context.Background()
	sync := postindex.New(store, "posts.json")
	_, err := sync.Apply(ctx, "seed", postindex.Insert(models.Post{Slug: "x", Date: "2024-01-01"}))
	require.NoError(t, err)

	svc := newService(t, store, "2024-06-01")
	require.NoError(t, svc.Delete(ctx, "x"))
	snap, err := svc.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, snap.Value)
}

func TestDeleteManyUsesOneIndexWrite(t *testing.T) {
	fake := testutil.NewGitHub(t, "tok")
	svc := newService(t, testutil.GitHubStore(fake), "2024-06-01")
	ctx := context.Background()

	for _, title := range []string{"a", "b", "c", "d"} {
		_, err := svc.Create(ctx, posts.Input{Title: title, Content: title})
		require.NoError(t, err)
	}
	before := fake.Writes("posts.json")

	done, err := svc.DeleteMany(ctx, []string{"2024-06-01-a", "2024-06-01-c", "2024-06-01-d"})
	require.NoError(t, err)
	assert.Len(t, done, 3)
	assert.Equal(t, before+1, fake.Writes("posts.json"))

	snap, err := svc.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-06-01-b"}, slugs(snap.Value))
	for _, s := range []string{"a", "c", "d"} {
		_, ok := fake.File("posts/2024-06-01-" + s + ".md")
		assert.False(t, ok, s)
	}
}

func TestDeleteManyPartialFailure(t *testing.T) {
	fake := testutil.NewGitHub(t, "tok")
	svc := newService(t, testutil.GitHubStore(fake), "2024-06-01")
	ctx := context.Background()
	for _, title := range []string{"a", "b"} {
		_, err := svc.Create(ctx, posts.Input{Title: title, Content: title})
		require.NoError(t, err)
	}
	fake.FailNext(http.MethodDelete, "posts/2024-06-01-b.md", http.StatusInternalServerError, "boom")

	done, err := svc.DeleteMany(ctx, []string{"2024-06-01-a", "2024-06-01-b"})
	var storeErr *apperr.StoreError
	require.ErrorAs(t, err, &storeErr)
	assert.Equal(t, []string{"2024-06-01-a"}, done)

	snap, err := svc.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-06-01-b"}, slugs(snap.Value))
}

func TestGetMissing(t *testing.T) {
	_, store := testutil.FSStore(t)
	svc := newService(t, store, "2024-06-01")
	_, err := svc.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestSlugsStayInsidePostsDir(t *testing.T) {
	fake := testutil.NewGitHub(t, "tok")
	fake.Seed("README.md", []byte("# blog"))
	svc := newService(t, testutil.GitHubStore(fake), "2024-06-01")
	ctx := context.Background()

	for _, slug := range []string{"../README", `..\README`, "a/b", ".hidden"} {
		_, err := svc.DeleteMany(ctx, []string{"2024-06-01-ok", slug})
		assert.ErrorIs(t, err, apperr.ErrValidation, slug)

		_, err = svc.Get(ctx, slug)
		assert.ErrorIs(t, err, apperr.ErrValidation, slug)

		_, err = svc.Update(ctx, models.Post{Slug: slug}, posts.Input{Title: "x", Content: "x"})
		assert.ErrorIs(t, err, apperr.ErrValidation, slug)

		assert.ErrorIs(t, svc.Delete(ctx, slug), apperr.ErrValidation, slug)
	}

	readme, ok := fake.File("README.md")
	require.True(t, ok, "README.md must survive")
	assert.Equal(t, "# blog", string(readme))
	assert.Zero(t, fake.Writes("posts.json"))
}

func TestFilesAndIndexStayConsistent(t *testing.T) {
	_, store := testutil.FSStore(t)
	svc := newService(t, store, "2024-06-01")
	ctx := context.Background()

	created := map[string]models.Post{}
	steps := []struct {
		name string
		run  func(t *testing.T)
	}{
		{"create first", func(t *testing.T) {
			p, err := svc.Create(ctx, posts.Input{Title: "first", Tags: []string{"go"}, Content: "one"})
			require.NoError(t, err)
			created["first"] = p
		}},
		{"create second", func(t *testing.T) {
			p, err := svc.Create(ctx, posts.Input{Title: "second", Content: "two"})
			require.NoError(t, err)
			created["second"] = p
		}},
		{"create third", func(t *testing.T) {
			p, err := svc.Create(ctx, posts.Input{Title: "third", Content: "three"})
			require.NoError(t, err)
			created["third"] = p
		}},
		{"update first", func(t *testing.T) {
			_, err := svc.Update(ctx, created["first"], posts.Input{Title: "first again", Content: "uno"})
			require.NoError(t, err)
		}},
		{"delete second", func(t *testing.T) {
			require.NoError(t, svc.Delete(ctx, created["second"].Slug))
		}},
		{"create fourth", func(t *testing.T) {
			p, err := svc.Create(ctx, posts.Input{Title: "fourth", Content: "four"})
			require.NoError(t, err)
			created["fourth"] = p
		}},
		{"delete many", func(t *testing.T) {
			done, err := svc.DeleteMany(ctx, []string{created["first"].Slug, created["fourth"].Slug})
			require.NoError(t, err)
			assert.Len(t, done, 2)
		}},
		{"update third", func(t *testing.T) {
			_, err := svc.Update(ctx, created["third"], posts.Input{Title: "third", Category: "notes", Content: "tres"})
			require.NoError(t, err)
		}},
		{"delete last", func(t *testing.T) {
			require.NoError(t, svc.Delete(ctx, created["third"].Slug))
		}},
	}

	for _, step := range steps {
		t.Run(step.name, func(t *testing.T) {
			step.run(t)

			report, err := reconcile.Run(ctx, store, svc.Index(), reconcile.Options{Dir: svc.Dir()})
			require.NoError(t, err)
			assert.True(t, report.Clean(), "orphans=%v dangling=%v", report.Orphans, report.Dangling)
			assert.Equal(t, report.Files, report.Records)
		})
	}
}

func TestSplitTags(t *testing.T) {
	assert.Equal(t, []string{"go", "blog"}, posts.SplitTags(" go, ,blog,"))
	assert.Equal(t, []string{}, posts.SplitTags(""))
}
