package harvester

import (
	"testing"
	"time"

	"github.com/reviewdeck/harvester/models"
)

const redditThreadURL = "https://www.reddit.com/r/headphones/comments/abc123/aurora_x1_impressions.json?limit=100&depth=1&sort=best"

// redditThreadJSON mirrors the two-element listing the thread endpoint
// returns: post listing first, comment tree second.
const redditThreadJSON = `[
  {
    "data": {
      "children": [
        {
          "kind": "t3",
          "data": {
            "id": "abc123",
            "title": "Aurora X1 six month impressions",
            "selftext": "I bought the Aurora X1 six months ago and the sound quality is superb for the price. Still my daily driver after hundreds of hours.",
            "author": "audio_nerd",
            "num_comments": 42,
            "created_utc": 1700000000
          }
        }
      ]
    }
  },
  {
    "data": {
      "children": [
        {"kind": "more", "data": {"id": "m1"}},
        {"kind": "t1", "data": {"id": "c1", "author": "AutoModerator", "body": "This is an automated reminder about the purchase advice rules, read the wiki before posting questions."}},
        {"kind": "t1", "data": {"id": "c2", "author": "ghost", "body": "[deleted]"}},
        {"kind": "t1", "data": {"id": "c3", "author": "terse_guy", "body": "Nice."}},
        {"kind": "t1", "data": {"id": "c4", "author": "daily_user", "body": "I use mine every day for calls and music and the battery lasts the whole week without charging.", "created_utc": 1700000500}},
        {"kind": "t1", "data": {"id": "c5", "author": "second_fan", "body": "Bought these after a month of research and the comfort is honestly superb, absolutely worth it for long sessions."}},
        {"kind": "t1", "data": {"id": "c6", "author": "third_voice", "body": "My experience has been positive overall, the midrange is clear and the case survived two drops already."}},
        {"kind": "t1", "data": {"id": "c7", "author": "late_commenter", "body": "I own the older model too and this one is better in every way, highly recommend for commuters."}}
      ]
    }
  }
]`

func TestRedditExtractJSON(t *testing.T) {
	h := newTestHarvester(testConfig())

	candidates := h.ExtractCandidates(redditThreadJSON, models.SourceReddit, redditThreadURL, "Aurora X1")
	if len(candidates) != 4 {
		t.Fatalf("Expected post plus top 3 comments (4 candidates), got %d", len(candidates))
	}

	post := candidates[0]
	if post.SourceReviewID != "reddit_abc123_post" {
		t.Errorf("Expected post id reddit_abc123_post, got %q", post.SourceReviewID)
	}
	if post.Author != "audio_nerd" {
		t.Errorf("Expected post author audio_nerd, got %q", post.Author)
	}
	if post.Title != "Aurora X1 six month impressions" {
		t.Errorf("Expected post title preserved, got %q", post.Title)
	}
	if post.PostedAt == nil || !post.PostedAt.Equal(time.Unix(1700000000, 0).UTC()) {
		t.Errorf("Expected post timestamp from created_utc, got %v", post.PostedAt)
	}

	wantIDs := []string{"reddit_abc123_c4", "reddit_abc123_c5", "reddit_abc123_c6"}
	wantAuthors := []string{"daily_user", "second_fan", "third_voice"}
	for i, c := range candidates[1:] {
		if c.SourceReviewID != wantIDs[i] {
			t.Errorf("Expected comment id %q, got %q", wantIDs[i], c.SourceReviewID)
		}
		if c.Author != wantAuthors[i] {
			t.Errorf("Expected comment author %q, got %q", wantAuthors[i], c.Author)
		}
		if c.Title != "Re: Aurora X1 six month impressions" {
			t.Errorf("Expected comment title to reference the thread, got %q", c.Title)
		}
		if c.SourceKind != models.SourceReddit {
			t.Errorf("Expected reddit source kind, got %q", c.SourceKind)
		}
	}

	if candidates[1].PostedAt == nil || !candidates[1].PostedAt.Equal(time.Unix(1700000500, 0).UTC()) {
		t.Errorf("Expected first comment timestamp from created_utc, got %v", candidates[1].PostedAt)
	}
}

func TestRedditThinThreadSkipped(t *testing.T) {
	h := newTestHarvester(testConfig())

	thin := `[
  {"data": {"children": [{"kind": "t3", "data": {"id": "tiny1", "title": "Anyone tried the Aurora X1?", "selftext": "I bought one and the quality is excellent, happy to answer questions about the fit.", "author": "op", "num_comments": 3}}]}},
  {"data": {"children": []}}
]`

	if got := h.ExtractCandidates(thin, models.SourceReddit, redditThreadURL, "Aurora X1"); got != nil {
		t.Errorf("Expected thin thread to yield no candidates, got %d", len(got))
	}

	empty := `[{"data": {"children": []}}]`
	if got := h.ExtractCandidates(empty, models.SourceReddit, redditThreadURL, "Aurora X1"); got != nil {
		t.Errorf("Expected empty listing to yield no candidates, got %d", len(got))
	}
}

func TestRedditDeletedPostStillCollectsComments(t *testing.T) {
	h := newTestHarvester(testConfig())

	fixture := `[
  {"data": {"children": [{"kind": "t3", "data": {"id": "gone1", "title": "Aurora X1 worth the upgrade?", "selftext": "[removed]", "author": "[deleted]", "num_comments": 12}}]}},
  {"data": {"children": [
    {"kind": "t1", "data": {"id": "k1", "author": "survivor", "body": "I use the Aurora X1 daily and the battery life is superb, easily a full week between charges."}}
  ]}}
]`

	candidates := h.ExtractCandidates(fixture, models.SourceReddit, redditThreadURL, "Aurora X1")
	if len(candidates) != 1 {
		t.Fatalf("Expected only the surviving comment, got %d candidates", len(candidates))
	}
	if candidates[0].SourceReviewID != "reddit_gone1_k1" {
		t.Errorf("Expected comment id reddit_gone1_k1, got %q", candidates[0].SourceReviewID)
	}
}

func TestRedditExtractHTML(t *testing.T) {
	h := newTestHarvester(testConfig())

	pageHTML := `<html><body>
<div class="thing" data-type="link" data-fullname="t3_h7k2" data-author="op_user">
  <a class="title">Aurora X1 owners thread</a>
  <time datetime="2024-05-01T10:00:00Z">May 1</time>
  <div class="usertext-body">I bought the Aurora X1 last month and the build quality is superb for the price, zero regrets so far.</div>
</div>
<div class="commentarea">
  <div class="sitetable">
    <div class="thing comment" data-fullname="t1_c1" data-author="commuter_one">
      <time datetime="2024-05-02T08:00:00Z">May 2</time>
      <div class="usertext-body">I use mine on the train every morning and the isolation works great for the commute.</div>
      <div class="child">
        <div class="thing comment" data-fullname="t1_n1" data-author="nested_user">
          <div class="usertext-body">Replying to agree with the isolation point, it works great in the office too and on flights.</div>
        </div>
      </div>
    </div>
    <div class="thing comment" data-fullname="t1_c2" data-author="battery_fan">
      <div class="usertext-body">Worth it for the battery alone, mine lasts a full week of daily listening without a recharge.</div>
    </div>
    <div class="thing comment" data-fullname="t1_c3" data-author="summer_user">
      <div class="usertext-body">After a month of ownership the pads still feel fresh and my ears never get warm in summer.</div>
    </div>
    <div class="thing comment" data-fullname="t1_c4" data-author="office_buyer">
      <div class="usertext-body">I bought a second pair for the office because the quality is that consistent across units.</div>
    </div>
    <div class="thing comment" data-fullname="t1_c5" data-author="caller_five">
      <div class="usertext-body">My experience with the microphone has been solid, calls sound clear even on a windy platform.</div>
    </div>
  </div>
</div>
</body></html>`

	candidates := h.ExtractCandidates(pageHTML, models.SourceReddit, "https://old.reddit.com/r/headphones/comments/h7k2/aurora_x1_owners_thread/", "Aurora X1")
	if len(candidates) != 4 {
		t.Fatalf("Expected post plus top 3 comments (4 candidates), got %d", len(candidates))
	}

	if candidates[0].SourceReviewID != "reddit_h7k2_post" {
		t.Errorf("Expected post id reddit_h7k2_post, got %q", candidates[0].SourceReviewID)
	}
	if candidates[0].PostedAt == nil {
		t.Error("Expected post timestamp parsed from the time node")
	}

	wantIDs := []string{"reddit_h7k2_c1", "reddit_h7k2_c2", "reddit_h7k2_c3"}
	for i, c := range candidates[1:] {
		if c.SourceReviewID != wantIDs[i] {
			t.Errorf("Expected comment id %q, got %q", wantIDs[i], c.SourceReviewID)
		}
		if c.Title != "Re: Aurora X1 owners thread" {
			t.Errorf("Expected comment title to reference the thread, got %q", c.Title)
		}
	}
}

func TestRedditExtractHTMLThinThread(t *testing.T) {
	h := newTestHarvester(testConfig())

	pageHTML := `<html><body>
<div class="commentarea">
  <div class="sitetable">
    <div class="thing comment" data-fullname="t1_c1" data-author="only_one">
      <div class="usertext-body">I use it daily and the quality is excellent, would be happy to answer any questions here.</div>
    </div>
  </div>
</div>
</body></html>`

	if got := h.ExtractCandidates(pageHTML, models.SourceReddit, "https://old.reddit.com/r/headphones/comments/h7k2/thread/", "Aurora X1"); got != nil {
		t.Errorf("Expected thin rendered thread to yield no candidates, got %d", len(got))
	}
}

func TestThreadIDFromURL(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"https://www.reddit.com/r/headphones/comments/abc123/great_thread.json?limit=100", "abc123"},
		{"https://www.reddit.com/comments/xyz789.json", "xyz789"},
		{"https://www.reddit.com/r/headphones/comments/q5w6e/", "q5w6e"},
		{"https://www.reddit.com/r/all", ""},
	}
	for _, tt := range tests {
		if got := threadIDFromURL(tt.url); got != tt.want {
			t.Errorf("threadIDFromURL(%q): expected %q, got %q", tt.url, tt.want, got)
		}
	}
}

func TestUnixTime(t *testing.T) {
	if got := unixTime(0); got != nil {
		t.Errorf("Expected nil for zero timestamp, got %v", got)
	}
	if got := unixTime(-5); got != nil {
		t.Errorf("Expected nil for negative timestamp, got %v", got)
	}
	got := unixTime(1700000000)
	if got == nil || !got.Equal(time.Unix(1700000000, 0).UTC()) {
		t.Errorf("Expected parsed UTC timestamp, got %v", got)
	}
}
