package constraint

import (
	"testing"

	"douban_recommend/internal/model"
)

func TestParseBookIntent(t *testing.T) {
	c := Parse("想看点推理小说")
	if !c.BookOnly() {
		t.Error("expected strict_types to contain book")
	}
	if !c.TopicTags["mystery"] {
		t.Error("expected mystery topic tag")
	}
	if !c.TypeAllowed(model.TypeBook) {
		t.Error("book should pass type filter")
	}
	if c.TypeAllowed(model.TypeMovie) {
		t.Error("movie should be rejected under book-only constraint")
	}
}

func TestParseRelaxClearsTopics(t *testing.T) {
	c := Parse("科幻或者别的都行")
	if len(c.TopicTags) != 0 {
		t.Errorf("relax keyword should clear topic tags, got %v", c.TopicTags)
	}
}

func TestParseFriendFocus(t *testing.T) {
	c := Parse("推荐好友们喜欢的书")
	if !c.FriendFocus {
		t.Error("expected friend_focus")
	}
	if !c.BookOnly() {
		t.Error("expected book constraint")
	}
}

func TestParseUnrestricted(t *testing.T) {
	c := Parse("最近有什么好看的电影")
	if len(c.StrictTypes) != 0 {
		t.Errorf("expected no strict types, got %v", c.StrictTypes)
	}
	if !c.TypeAllowed(model.TypeTV) {
		t.Error("unrestricted constraints should allow any type")
	}
	if c.LanguagePreference != LangZHPreferred {
		t.Errorf("default language preference should be zh_preferred, got %s", c.LanguagePreference)
	}
}

func TestStrictTypeNamesStable(t *testing.T) {
	c := Parse("找本书")
	names := c.StrictTypeNames()
	if len(names) != 1 || names[0] != "book" {
		t.Errorf("unexpected strict type names: %v", names)
	}
}
