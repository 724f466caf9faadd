//go:build ignore

// Command generate-test-corpus synthesizes a directory of session
// transcripts for exercising the indexing pipeline at scale.
// Usage: go run scripts/generate-test-corpus.go -sessions 500 -output testdata/bench
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"time"
)

var (
	numSessions     = flag.Int("sessions", 500, "number of session files to generate")
	minMessages     = flag.Int("min-messages", 10, "minimum messages per session")
	maxMessages     = flag.Int("max-messages", 80, "maximum messages per session")
	outputDir       = flag.String("output", "testdata/bench", "output directory for the generated .jsonl files")
	seed            = flag.Int64("seed", 42, "random seed for reproducibility")
	projectCount    = flag.Int("projects", 8, "number of distinct project names to scatter sessions across")
	markerFrequency = flag.Float64("marker-rate", 0.15, "fraction of messages that carry a memory marker phrase")
)

var topics = []string{
	"retry logic", "database migrations", "the auth middleware", "rate limiting",
	"the embedding cache", "vector index compaction", "the scorer weights",
	"session resumption", "the background watcher", "config validation",
	"the chunker's overlap window", "graceful shutdown", "the search orchestrator",
	"flaky integration tests", "the CLI's progress bar", "structured logging",
}

var roles = []string{"user", "assistant"}

var markerPhrases = []string{
	"we decided to go with",
	"the bug was caused by",
	"let's remember that",
	"important: this only works because",
	"note for next time:",
}

var userTemplates = []string{
	"can you help me understand %s?",
	"I'm seeing an issue with %s, any ideas?",
	"let's refactor %s to be cleaner",
	"why does %s behave this way?",
	"write a test for %s",
}

var assistantTemplates = []string{
	"Looking at %s, the root cause is a missing bounds check.",
	"I adjusted %s so it now retries with backoff.",
	"Here's a walkthrough of how %s is wired together.",
	"%s should now handle the edge case you described.",
	"I added coverage for %s in the corresponding _test.go file.",
}

func main() {
	flag.Parse()
	rng := rand.New(rand.NewSource(*seed))

	if err := os.MkdirAll(*outputDir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "creating output dir: %v\n", err)
		os.Exit(1)
	}

	projects := make([]string, *projectCount)
	for i := range projects {
		projects[i] = fmt.Sprintf("project-%d", i)
	}

	generated := 0
	start := time.Now().Add(-30 * 24 * time.Hour)
	for i := 0; i < *numSessions; i++ {
		sessionID := fmt.Sprintf("sess-%06d", i)
		project := projects[rng.Intn(len(projects))]
		msgCount := *minMessages + rng.Intn(*maxMessages-*minMessages+1)
		sessionStart := start.Add(time.Duration(rng.Int63n(int64(30 * 24 * time.Hour))))

		if err := generateSessionFile(rng, sessionID, project, msgCount, sessionStart); err != nil {
			fmt.Fprintf(os.Stderr, "generating %s: %v\n", sessionID, err)
			continue
		}
		generated++
	}
	fmt.Printf("generated %d session files in %s\n", generated, *outputDir)
}

type sessionLine struct {
	Role      string `json:"role"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
}

func generateSessionFile(rng *rand.Rand, sessionID, project string, msgCount int, start time.Time) error {
	path := filepath.Join(*outputDir, sessionID+".jsonl")
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	defer w.Flush()

	ts := start
	for i := 0; i < msgCount; i++ {
		role := roles[i%2]
		topic := topics[rng.Intn(len(topics))]

		var content string
		if role == "user" {
			content = fmt.Sprintf(userTemplates[rng.Intn(len(userTemplates))], topic)
		} else {
			content = fmt.Sprintf(assistantTemplates[rng.Intn(len(assistantTemplates))], topic)
		}
		if rng.Float64() < *markerFrequency {
			content = fmt.Sprintf("%s %s regarding %s.", content, markerPhrases[rng.Intn(len(markerPhrases))], project)
		}

		ts = ts.Add(time.Duration(rng.Intn(180)) * time.Second)
		line := sessionLine{Role: role, Content: content, Timestamp: ts.UTC().Format(time.RFC3339)}

		data, err := json.Marshal(line)
		if err != nil {
			return err
		}
		if _, err := w.Write(data); err != nil {
			return err
		}
		if err := w.WriteByte('\n'); err != nil {
			return err
		}
	}
	return nil
}
