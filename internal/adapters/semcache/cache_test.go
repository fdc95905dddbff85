package semcache_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	json "github.com/goccy/go-json"

	"github.com/okian/revroute/internal/adapters/kv"
	"github.com/okian/revroute/internal/adapters/semcache"
	"github.com/okian/revroute/internal/domain/artifact"
	"github.com/okian/revroute/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

func rerankKey(id string, cutoff time.Time) artifact.Key {
	return artifact.Key{
		Repo: "acme/api", EntityType: model.EntityPullRequest, EntityID: id,
		Cutoff: cutoff, ArtifactType: artifact.TypeLLMRerank,
		VersionKey: artifact.Version(map[string]string{"model": "gpt-4o-mini", "prompt": "rerank@1"}),
	}
}

type backendCase struct {
	name string
	open func(t *testing.T) semcache.Backend
}

func backends() []backendCase {
	return []backendCase{
		{"memory", func(*testing.T) semcache.Backend { return semcache.NewMemoryBackend() }},
		{"disk", func(t *testing.T) semcache.Backend {
			b, err := semcache.NewDiskBackend(t.TempDir())
			So(err, ShouldBeNil)
			return b
		}},
		{"badger", func(*testing.T) semcache.Backend {
			db, err := kv.Open(kv.InMemoryConfig())
			So(err, ShouldBeNil)
			return semcache.NewBadgerBackend(db, true)
		}},
	}
}

func TestCacheRoundTrip(t *testing.T) {
	for _, bc := range backends() {
		Convey("Given a semantic cache on the "+bc.name+" backend", t, func() {
			c := semcache.New(bc.open(t))
			defer func() { _ = c.Close() }()
			ctx := context.Background()
			cutoff := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
			key := rerankKey("7", cutoff)

			Convey("When nothing was put", func() {
				v, ok, err := c.Get(ctx, key)

				Convey("Then the lookup is absent, not an error", func() {
					So(err, ShouldBeNil)
					So(ok, ShouldBeFalse)
					So(v, ShouldBeNil)
				})
			})

			Convey("When an empty rerank is put", func() {
				So(c.Put(ctx, key, json.RawMessage(`{"items": []}`)), ShouldBeNil)
				v, ok, err := c.Get(ctx, key)

				Convey("Then exactly the same bytes come back", func() {
					So(err, ShouldBeNil)
					So(ok, ShouldBeTrue)
					So(string(v), ShouldEqual, `{"items": []}`)
				})

				Convey("And a different cutoff does not collide", func() {
					_, ok, err := c.Get(ctx, rerankKey("7", cutoff.Add(time.Hour)))
					So(err, ShouldBeNil)
					So(ok, ShouldBeFalse)
				})
			})

			Convey("When the key is overwritten", func() {
				first := `{"items":[{"candidate":"user:a","score":0.2,"evidence":["e1"]}]}`
				second := `{"items":[{"candidate":"user:b","score":0.7,"evidence":["e2"]}]}`
				So(c.Put(ctx, key, json.RawMessage(first)), ShouldBeNil)
				So(c.Put(ctx, key, json.RawMessage(second)), ShouldBeNil)
				v, _, _ := c.Get(ctx, key)

				Convey("Then the last write wins", func() {
					So(string(v), ShouldEqual, second)
				})
			})

			Convey("When an invalid artifact is put", func() {
				err := c.Put(ctx, key, json.RawMessage(`{"items":[{"candidate":"user:a","score":0.2,"evidence":[]}]}`))
				_, ok, _ := c.Get(ctx, key)

				Convey("Then the write is rejected and nothing is stored", func() {
					So(errors.Is(err, artifact.ErrInvalidArtifact), ShouldBeTrue)
					So(ok, ShouldBeFalse)
				})
			})

			Convey("When the key is incomplete", func() {
				bad := key
				bad.VersionKey = ""
				err := c.Put(ctx, bad, json.RawMessage(`{"items":[]}`))

				Convey("Then the key is rejected", func() {
					So(errors.Is(err, artifact.ErrInvalidKey), ShouldBeTrue)
				})
			})
		})
	}
}

func TestCacheConcurrentWriters(t *testing.T) {
	Convey("Given many writers racing on one key", t, func() {
		c := semcache.New(semcache.NewMemoryBackend())
		ctx := context.Background()
		key := rerankKey("9", time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC))

		var wg sync.WaitGroup
		for i := range 16 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				body := fmt.Sprintf(`{"items":[{"candidate":"user:u%d","score":0.5,"evidence":["e"]}]}`, i)
				_ = c.Put(ctx, key, json.RawMessage(body))
			}()
		}
		wg.Wait()

		Convey("Then exactly one complete artifact survives", func() {
			v, ok, err := c.Get(ctx, key)
			So(err, ShouldBeNil)
			So(ok, ShouldBeTrue)
			_, err = artifact.DecodeRerank(v)
			So(err, ShouldBeNil)
		})
	})
}

func TestReplayCache(t *testing.T) {
	for _, bc := range backends() {
		Convey("Given a replay cache on the "+bc.name+" backend", t, func() {
			b := bc.open(t)
			defer func() { _ = b.Close() }()
			r := semcache.NewReplay(b)
			ctx := context.Background()

			_, ok, err := r.Get(ctx, "prompt:abc")
			So(err, ShouldBeNil)
			So(ok, ShouldBeFalse)

			So(r.Put(ctx, "prompt:abc", []byte("raw completion")), ShouldBeNil)
			So(r.Put(ctx, "prompt:abc", []byte("second completion")), ShouldBeNil)
			v, ok, err := r.Get(ctx, "prompt:abc")
			So(err, ShouldBeNil)
			So(ok, ShouldBeTrue)
			So(string(v), ShouldEqual, "second completion")
		})
	}
}

func TestOpenBackend(t *testing.T) {
	Convey("Given backend kinds", t, func() {
		m, err := semcache.OpenBackend("memory", "", nil)
		So(err, ShouldBeNil)
		So(m, ShouldHaveSameTypeAs, &semcache.MemoryBackend{})

		d, err := semcache.OpenBackend("disk", t.TempDir(), nil)
		So(err, ShouldBeNil)
		So(d, ShouldHaveSameTypeAs, &semcache.DiskBackend{})

		_, err = semcache.OpenBackend("redis", "", nil)
		So(errors.Is(err, semcache.ErrBackend), ShouldBeTrue)
	})
}
