package artifact_test

import (
	"errors"
	"testing"
	"time"

	"github.com/okian/revroute/internal/domain/artifact"
	"github.com/okian/revroute/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

func key() artifact.Key {
	return artifact.Key{
		Repo: "acme/api", EntityType: model.EntityPullRequest, EntityID: "7",
		Cutoff:       time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
		ArtifactType: artifact.TypeLLMRerank,
		VersionKey:   artifact.Version(map[string]string{"model": "m", "prompt": "p@1"}),
	}
}

func TestKey(t *testing.T) {
	Convey("Given a cache key", t, func() {
		k := key()

		Convey("When the cutoff is expressed in another zone", func() {
			other := k
			other.Cutoff = k.Cutoff.In(time.FixedZone("PST", -8*3600))

			Convey("Then both keys hash the same", func() {
				So(other.Digest(), ShouldEqual, k.Digest())
			})
		})

		Convey("When any field changes", func() {
			variants := []artifact.Key{k, k, k, k, k, k}
			variants[0].Repo = "acme/web"
			variants[1].EntityType = model.EntityIssue
			variants[2].EntityID = "8"
			variants[3].Cutoff = k.Cutoff.Add(time.Second)
			variants[4].ArtifactType = "other"
			variants[5].VersionKey = "model=\"n\""

			Convey("Then the digest changes", func() {
				for _, v := range variants {
					So(v.Digest(), ShouldNotEqual, k.Digest())
				}
			})
		})

		Convey("Then version keys are order independent", func() {
			a := artifact.Version(map[string]string{"a": "1", "b": "2"})
			b := artifact.Version(map[string]string{"b": "2", "a": "1"})
			So(a, ShouldEqual, b)
			So(a, ShouldEqual, `a="1";b="2"`)
		})

		Convey("Then incomplete keys fail validation", func() {
			So(k.Validate(), ShouldBeNil)
			k.VersionKey = ""
			So(errors.Is(k.Validate(), artifact.ErrInvalidKey), ShouldBeTrue)
		})
	})
}

func TestRerankEnvelope(t *testing.T) {
	Convey("Given rerank payloads", t, func() {
		Convey("Then an empty item list is valid", func() {
			So(artifact.Validate(artifact.TypeLLMRerank, []byte(`{"items": []}`)), ShouldBeNil)
		})

		Convey("Then items with evidence are valid", func() {
			resp, err := artifact.DecodeRerank([]byte(`{"items":[{"candidate":"user:alice","score":0.9,"evidence":["event:12"]}]}`))
			So(err, ShouldBeNil)
			So(resp.Items[0].Evidence, ShouldResemble, []string{"event:12"})
		})

		Convey("Then empty or missing evidence is rejected", func() {
			for _, raw := range []string{
				`{"items":[{"candidate":"user:alice","score":0.9,"evidence":[]}]}`,
				`{"items":[{"candidate":"user:alice","score":0.9}]}`,
				`{"items":[{"candidate":"user:alice","score":0.9,"evidence":[""]}]}`,
			} {
				So(errors.Is(artifact.Validate(artifact.TypeLLMRerank, []byte(raw)), artifact.ErrInvalidArtifact), ShouldBeTrue)
			}
		})

		Convey("Then out of range scores and unknown fields are rejected", func() {
			So(artifact.Validate(artifact.TypeLLMRerank, []byte(`{"items":[{"candidate":"user:a","score":3,"evidence":["x"]}]}`)), ShouldNotBeNil)
			So(artifact.Validate(artifact.TypeLLMRerank, []byte(`{"items":[],"extra":1}`)), ShouldNotBeNil)
			So(artifact.Validate(artifact.TypeLLMRerank, []byte(`not json`)), ShouldNotBeNil)
		})

		Convey("Then unknown artifact types are rejected", func() {
			So(errors.Is(artifact.Validate("blob", []byte(`{}`)), artifact.ErrUnknownArtifact), ShouldBeTrue)
		})
	})
}
