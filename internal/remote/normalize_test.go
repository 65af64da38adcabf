package remote

import (
	"encoding/json"
	"testing"

	"github.com/bryan-buckman/chanmirror/internal/model"
	"github.com/google/go-cmp/cmp"
)

func TestClassify(t *testing.T) {
	img := &RawImage{Thumb: &ImageVersion{URL: "t.jpg"}}
	cases := []struct {
		name string
		raw  RawItem
		want model.ItemType
	}{
		{"image", RawItem{Class: "Image"}, model.TypeImage},
		{"text", RawItem{Class: "Text"}, model.TypeText},
		{"link", RawItem{Class: "Link", Image: img}, model.TypeLink},
		{"media", RawItem{Class: "Media"}, model.TypeMedia},
		{"attachment", RawItem{Class: "Attachment"}, model.TypeDocument},
		{"channel base class", RawItem{Class: "Whatever", BaseClass: "Channel"}, model.TypeCollection},
		{"channel class", RawItem{Class: "Channel"}, model.TypeCollection},
		{"case insensitive", RawItem{Class: " IMAGE "}, model.TypeImage},
		{"unknown with image", RawItem{Class: "Hologram", Image: img}, model.TypeImage},
		{"unknown without image", RawItem{Class: "Hologram"}, model.TypeText},
		{"unknown with empty image", RawItem{Image: &RawImage{}}, model.TypeText},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := Classify(c.raw); got != c.want {
				t.Errorf("expected %s, got %s", c.want, got)
			}
		})
	}
}

func TestNormalizeItem(t *testing.T) {
	payload := `{
		"id": 777,
		"class": "Media",
		"base_class": "Block",
		"title": "a video",
		"image": {
			"thumb": {"url": "https://img/t.jpg"},
			"display": {"url": "https://img/d.jpg"},
			"original": {"url": "https://img/o.jpg"}
		},
		"embed": {"width": 640, "height": 360, "html": "<iframe>"},
		"source": {"url": "https://video"}
	}`
	var raw RawItem
	if err := json.Unmarshal([]byte(payload), &raw); err != nil {
		t.Fatal(err)
	}
	want := model.Item{
		ID:        777,
		Type:      model.TypeMedia,
		Title:     "a video",
		SourceURL: "https://video",
		Media: model.Media{
			Thumb:    "https://img/t.jpg",
			Display:  "https://img/d.jpg",
			Original: "https://img/o.jpg",
		},
		EmbedWidth:  640,
		EmbedHeight: 360,
	}
	if diff := cmp.Diff(want, NormalizeItem(raw)); diff != "" {
		t.Errorf("unexpected item (-want +got):\n%s", diff)
	}
}

func TestNormalizeNestedCollection(t *testing.T) {
	got := NormalizeItem(RawItem{ID: 5, BaseClass: "Channel", Slug: "inner"})
	if got.Type != model.TypeCollection || got.NestedSlug != "inner" {
		t.Errorf("unexpected nested item %+v", got)
	}
	if got.Type.NeedsMeasurement() {
		t.Error("nested collections are not measured")
	}
}

func TestNormalizeCollectionDefaults(t *testing.T) {
	got := NormalizeCollection(RawCollection{ID: 1, Slug: "s", Title: "t"})
	if got.Length != 0 || got.Author != nil {
		t.Errorf("missing fields must normalize to empty values: %+v", got)
	}
	n := 120
	got = NormalizeCollection(RawCollection{Slug: "s", Length: &n, User: &RawUser{ID: 3, Slug: "someone"}})
	if got.Length != 120 || got.Author == nil || got.Author.ID != 3 {
		t.Errorf("unexpected collection %+v", got)
	}
}
