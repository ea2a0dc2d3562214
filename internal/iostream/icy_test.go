package iostream

import "testing"

func TestParseICYFieldsExtractsOnlyTitleAndURL(t *testing.T) {
	var title, url string
	block := "StreamTitle='Artist - Song';StreamUrl='http://example.com';SomeOtherField='ignored';"
	parseICYFields(block, &title, &url)
	if title != "Artist - Song" {
		t.Fatalf("title = %q", title)
	}
	if url != "http://example.com" {
		t.Fatalf("url = %q", url)
	}
}

func TestParseICYFieldsEmptyBlockYieldsNoUpdate(t *testing.T) {
	title, url := "prev-title", "prev-url"
	parseICYFields("", &title, &url)
	if title != "prev-title" || url != "prev-url" {
		t.Fatalf("empty block should not update fields, got %q %q", title, url)
	}
}
