// Command smoke runs an end-to-end check against a running deployment: it
// submits a job, polls until artifacts appear, downloads every signed link and
// verifies each is a PNG.
//
// Usage:
//
//	go run ./cmd/smoke \
//	  -base-url http://localhost:8080 \
//	  -api-key "$API_KEY" \
//	  -timeout 2m
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

var pngSignature = []byte("\x89PNG\r\n\x1a\n")

// phase tracks pass/fail for one check.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

type client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

type submitResponse struct {
	JobID     string `json:"jobId"`
	StatusURL string `json:"statusUrl"`
}

type statusResponse struct {
	JobID     string   `json:"jobId"`
	Status    string   `json:"status"`
	ImageURLs []string `json:"imageUrls"`
}

func main() {
	baseURL := flag.String("base-url", "http://localhost:8080", "API base URL")
	apiKey := flag.String("api-key", os.Getenv("API_KEY"), "bearer key for the job routes")
	timeout := flag.Duration("timeout", 2*time.Minute, "how long to wait for artifacts")
	poll := flag.Duration("poll", 2*time.Second, "status poll interval")
	minImages := flag.Int("min-images", 1, "artifacts required before the job counts as ready")
	flag.Parse()

	c := &client{
		baseURL: strings.TrimRight(*baseURL, "/"),
		apiKey:  *apiKey,
		http:    &http.Client{Timeout: 30 * time.Second},
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	os.Exit(run(ctx, c, *poll, *minImages))
}

func run(ctx context.Context, c *client, poll time.Duration, minImages int) int {
	fmt.Println("=== Weather Imaging Smoke Test ===")
	fmt.Println()

	submit := &phase{name: "Submit job"}
	ready := &phase{name: "Artifacts become ready"}
	links := &phase{name: "Signed links serve PNGs"}
	legacy := &phase{name: "Legacy image endpoint"}
	phases := []*phase{submit, ready, links, legacy}

	var job submitResponse
	status, err := c.getJSON(ctx, http.MethodPost, "/jobs", &job)
	switch {
	case err != nil:
		submit.errorf("request: %v", err)
	case status != http.StatusOK:
		submit.errorf("status %d, want 200", status)
	case job.JobID == "":
		submit.errorf("response has no jobId")
	case !strings.HasSuffix(job.StatusURL, "/status/"+job.JobID):
		submit.errorf("statusUrl %q does not end in /status/%s", job.StatusURL, job.JobID)
	}

	var st statusResponse
	if submit.passed() {
		fmt.Printf("job %s submitted, polling...\n", job.JobID)
		st = waitReady(ctx, c, job.JobID, poll, minImages, ready)
	} else {
		ready.errorf("skipped: submit failed")
	}

	if ready.passed() {
		for _, u := range st.ImageURLs {
			if err := c.checkPNG(ctx, u, false); err != nil {
				links.errorf("%s: %v", u, err)
			}
		}
		if err := c.checkPNG(ctx, c.baseURL+"/image/"+job.JobID, true); err != nil {
			legacy.errorf("%v", err)
		}
	} else {
		links.errorf("skipped: job not ready")
		legacy.errorf("skipped: job not ready")
	}

	fmt.Println()
	allPassed := true
	for _, p := range phases {
		result := "\033[32mPASS\033[0m"
		if !p.passed() {
			result = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		fmt.Printf("  %-32s %s\n", p.name, result)
	}
	fmt.Printf("\nArtifacts: %d\n", len(st.ImageURLs))

	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Printf("\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			fmt.Printf("  [%d] %s\n", i+1, e)
		}
	}

	if allPassed {
		fmt.Println("\nSmoke test passed.")
		return 0
	}
	fmt.Println("\nSmoke test FAILED.")
	return 1
}

func waitReady(ctx context.Context, c *client, jobID string, poll time.Duration, minImages int, p *phase) statusResponse {
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		var st statusResponse
		code, err := c.getJSON(ctx, http.MethodGet, "/status/"+jobID, &st)
		switch {
		case err != nil && ctx.Err() == nil:
			p.errorf("poll: %v", err)
			return st
		case code == http.StatusOK && len(st.ImageURLs) >= minImages:
			if st.Status != "ready" {
				p.errorf("status %q with 200, want ready", st.Status)
			}
			return st
		case code != http.StatusOK && code != http.StatusAccepted && err == nil:
			p.errorf("poll returned %d", code)
			return st
		}

		select {
		case <-ctx.Done():
			p.errorf("timed out waiting for %d artifacts (have %d)", minImages, len(st.ImageURLs))
			return st
		case <-ticker.C:
		}
	}
}

func (c *client) getJSON(ctx context.Context, method, path string, v any) (int, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return 0, err
	}
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusAccepted {
		if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
			return resp.StatusCode, fmt.Errorf("decode: %w", err)
		}
	}
	return resp.StatusCode, nil
}

func (c *client) checkPNG(ctx context.Context, url string, auth bool) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	if auth {
		c.authorize(req)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	head := make([]byte, len(pngSignature))
	if _, err := io.ReadFull(resp.Body, head); err != nil {
		return fmt.Errorf("read: %w", err)
	}
	if !bytes.Equal(head, pngSignature) {
		return fmt.Errorf("not a PNG (first bytes %x)", head)
	}
	return nil
}

func (c *client) authorize(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}
