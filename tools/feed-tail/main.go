package main

import (
	"bufio"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/documed/documed/libs/auth"
)

// feed-tail signs a short-lived token for the given actor and tails their
// live appointment feed. Dev tool for watching lifecycle changes end to end.
func main() {
	var (
		baseURL = flag.String("base-url", getenv("BASE_URL", "http://localhost:8084"), "scheduling service base url")
		actorID = flag.String("actor-id", getenv("ACTOR_ID", ""), "provider or requester id")
		role    = flag.String("role", getenv("ACTOR_ROLE", "requester"), "actor role (provider|requester)")
		secret  = flag.String("secret", getenv("JWT_SECRET", ""), "jwt signing secret")
	)
	flag.Parse()

	if strings.TrimSpace(*actorID) == "" {
		fatal("ACTOR_ID is required")
	}
	if strings.TrimSpace(*secret) == "" {
		fatal("JWT_SECRET is required")
	}
	if *role != "provider" && *role != "requester" {
		fatal("role must be provider or requester")
	}

	now := time.Now()
	token, err := auth.SignHS256(auth.Claims{
		Sub:  *actorID,
		Role: *role,
		Iat:  now.Unix(),
		Exp:  now.Add(time.Hour).Unix(),
	}, *secret)
	if err != nil {
		fatal(err.Error())
	}

	req, err := http.NewRequest(http.MethodGet, strings.TrimRight(*baseURL, "/")+"/api/v1/feed", nil)
	if err != nil {
		fatal(err.Error())
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fatal(err.Error())
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		fatal(fmt.Sprintf("unexpected status %d", resp.StatusCode))
	}

	fmt.Printf("tailing feed for %s %s\n", *role, *actorID)
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		fmt.Println(line)
	}
	if err := scanner.Err(); err != nil {
		fatal(err.Error())
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func fatal(msg string) {
	fmt.Fprintln(os.Stderr, "error: "+msg)
	os.Exit(1)
}
