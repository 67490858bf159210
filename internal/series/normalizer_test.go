package series

import (
	"testing"

	"douban_recommend/internal/model"
)

func TestOnePieceAliasesGroupToSameSeries(t *testing.T) {
	a := Normalize("One Piece Vol.1", model.TypeBook)
	b := Normalize("海贼王 第1卷", model.TypeBook)
	c := Normalize("ワンピース 1", model.TypeBook)

	if a.SeriesKey != b.SeriesKey || b.SeriesKey != c.SeriesKey {
		t.Errorf("expected same series key, got %q / %q / %q", a.SeriesKey, b.SeriesKey, c.SeriesKey)
	}
	for _, id := range []Identity{a, b, c} {
		if id.DisplayTitleZH != "海贼王" {
			t.Errorf("expected canonical title 海贼王, got %q", id.DisplayTitleZH)
		}
		if !id.IsVariant {
			t.Errorf("volume editions should be variants: %+v", id)
		}
	}
}

func TestTraditionalAndSimplifiedGroupToSameSeries(t *testing.T) {
	simplified := Normalize("孤岛的来访者", model.TypeBook)
	traditional := Normalize("孤島的來訪者", model.TypeBook)
	if simplified.SeriesKey != traditional.SeriesKey {
		t.Errorf("script variants diverged: %q vs %q", simplified.SeriesKey, traditional.SeriesKey)
	}
}

func TestJapaneseAndChineseAliasGrouping(t *testing.T) {
	jp := Normalize("名探偵に甘美なる死を", model.TypeBook)
	zh := Normalize("献给名侦探的甜美死亡", model.TypeBook)
	if jp.SeriesKey != zh.SeriesKey {
		t.Errorf("alias pair diverged: %q vs %q", jp.SeriesKey, zh.SeriesKey)
	}
	if !jp.IsVariant {
		t.Error("japanese rendering should be a variant of the canonical zh title")
	}
	if zh.IsVariant {
		t.Error("canonical zh title itself should not be a variant")
	}

	jp2 := Normalize("そして誰も死ななかった", model.TypeBook)
	zh2 := Normalize("无人逝去", model.TypeBook)
	if jp2.SeriesKey != zh2.SeriesKey {
		t.Errorf("alias pair diverged: %q vs %q", jp2.SeriesKey, zh2.SeriesKey)
	}
	if zh2.DisplayTitleZH != "无人逝去" {
		t.Errorf("expected canonical 无人逝去, got %q", zh2.DisplayTitleZH)
	}
}

func TestPlainTitleIsNotMisGrouped(t *testing.T) {
	id := Normalize("1984", model.TypeBook)
	if id.IsVariant {
		t.Error("1984 should not be flagged as variant")
	}
	if id.DisplayTitleZH != "1984" {
		t.Errorf("expected title preserved, got %q", id.DisplayTitleZH)
	}
	if id.SeriesKey != "book:1984" {
		t.Errorf("unexpected key %q", id.SeriesKey)
	}
}

func TestNormalizeIsIdempotent(t *testing.T) {
	titles := []string{"One Piece Vol.1", "海贼王 第1卷", "三体", "Dune: Part Two", "嫌疑人X的献身"}
	for _, title := range titles {
		first := Normalize(title, model.TypeBook)
		second := Normalize(first.DisplayTitleZH, model.TypeBook)
		if first.SeriesKey != second.SeriesKey {
			t.Errorf("normalize(%q) not idempotent: %q vs %q", title, first.SeriesKey, second.SeriesKey)
		}
	}
}

func TestSuffixStripping(t *testing.T) {
	cases := []struct {
		in      string
		out     string
		changed bool
	}{
		{"三体 第2部", "三体", true},
		{"Foundation Vol. 3", "Foundation", true},
		{"Breaking Bad S2", "Breaking Bad", true},
		{"Saga #4", "Saga", true},
		{"白夜行", "白夜行", false},
		{"进击的巨人 33", "进击的巨人", true},
	}
	for _, tc := range cases {
		got, changed := stripSeriesSuffix(tc.in)
		if got != tc.out || changed != tc.changed {
			t.Errorf("stripSeriesSuffix(%q) = (%q, %v), want (%q, %v)", tc.in, got, changed, tc.out, tc.changed)
		}
	}
}

func TestEmptyAndDegenerateInput(t *testing.T) {
	id := Normalize("", model.TypeMovie)
	if id.SeriesKey != "movie:unknown" {
		t.Errorf("empty title should map to unknown key, got %q", id.SeriesKey)
	}
	// 纯标点标题也必须有结果
	id = Normalize("!!!", model.TypeMovie)
	if id.SeriesKey == "" {
		t.Error("normalizer must be total over any input")
	}
}
