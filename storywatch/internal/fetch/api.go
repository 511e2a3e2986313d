package fetch

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// apiStatus is the envelope the web API adds to every JSON body. A 200 with
// message "login_required" or require_login=true is an expired session.
type apiStatus struct {
	Status       string `json:"status"`
	Message      string `json:"message"`
	RequireLogin bool   `json:"require_login"`
}

func (s apiStatus) loginRequired() bool {
	return s.RequireLogin || s.Message == "login_required" || s.Message == "checkpoint_required"
}

type profileResponse struct {
	apiStatus
	Data struct {
		User *struct {
			ID       flexID `json:"id"`
			Username string `json:"username"`
		} `json:"user"`
	} `json:"data"`
}

type reelsResponse struct {
	apiStatus
	Reels      map[string]reel `json:"reels"`
	ReelsMedia []reel          `json:"reels_media"`
}

type reel struct {
	ID    flexID     `json:"id"`
	Items []reelItem `json:"items"`
}

type reelItem struct {
	PK             flexID `json:"pk"`
	ID             string `json:"id"`
	MediaType      int    `json:"media_type"`
	TakenAt        int64  `json:"taken_at"`
	ImageVersions2 struct {
		Candidates []mediaVersion `json:"candidates"`
	} `json:"image_versions2"`
	VideoVersions []mediaVersion `json:"video_versions"`
}

type mediaVersion struct {
	URL    string `json:"url"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// flexID accepts ids sent either as JSON strings or as bare numbers.
type flexID string

func (f *flexID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexID(n.String())
	return nil
}

// items converts the reel for userID. Items without an id are dropped.
func (r *reelsResponse) items(target, userID string) []Item {
	var src *reel
	if rl, ok := r.Reels[userID]; ok {
		src = &rl
	} else {
		for i := range r.ReelsMedia {
			if string(r.ReelsMedia[i].ID) == userID {
				src = &r.ReelsMedia[i]
				break
			}
		}
	}
	if src == nil {
		return nil
	}

	out := make([]Item, 0, len(src.Items))
	for _, ri := range src.Items {
		id := string(ri.PK)
		if id == "" {
			id, _, _ = strings.Cut(ri.ID, "_")
		}
		if id == "" {
			continue
		}
		it := Item{
			ID:        id,
			Target:    target,
			MediaType: MediaType(ri.MediaType),
			TakenAt:   time.Unix(ri.TakenAt, 0).UTC(),
			ImageURL:  best(ri.ImageVersions2.Candidates),
		}
		if it.MediaType == MediaVideo {
			it.VideoURL = best(ri.VideoVersions)
		}
		out = append(out, it)
	}
	return out
}

// best returns the URL of the largest version.
func best(vs []mediaVersion) string {
	bestURL, bestArea := "", -1
	for _, v := range vs {
		if v.URL == "" {
			continue
		}
		if area := v.Width * v.Height; area > bestArea {
			bestURL, bestArea = v.URL, area
		}
	}
	return bestURL
}

// classify maps a transport response to a fetch failure, or nil for a 2xx.
// notFoundIsTarget selects whether a 404 means the target does not exist.
func classify(resp *response, target string, notFoundIsTarget bool) error {
	switch {
	case resp.Status >= 200 && resp.Status < 300:
		return nil
	case resp.Status == http.StatusUnauthorized || resp.Status == http.StatusForbidden:
		return &Error{Kind: AuthExpired, Target: target, Status: resp.Status}
	case resp.Status >= 300 && resp.Status < 400 && isLoginURL(resp.Location):
		return &Error{Kind: AuthExpired, Target: target, Status: resp.Status}
	case resp.Status == http.StatusNotFound && notFoundIsTarget:
		return &Error{Kind: TargetNotFound, Target: target, Status: resp.Status}
	default:
		return &Error{Kind: DownloadFailed, Target: target, Status: resp.Status}
	}
}

func isLoginURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return strings.HasPrefix(u.Path, "/accounts/login") || strings.HasPrefix(u.Path, "/challenge")
}
