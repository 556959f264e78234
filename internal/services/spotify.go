package services

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// SpotifyService is a thin client over the Spotify Web API's
// client-credentials flow and track search. It is the metadata provider
// clients use to pick a track before submitting it to a community list.
type SpotifyService struct {
	clientID     string
	clientSecret string
	tokenURL     string
	apiURL       string
	client       *http.Client

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

var spotifyService *SpotifyService

// GetSpotifyService returns the singleton Spotify client
func GetSpotifyService() *SpotifyService {
	if spotifyService == nil {
		tokenURL := os.Getenv("SPOTIFY_TOKEN_URL")
		if tokenURL == "" {
			tokenURL = "https://accounts.spotify.com/api/token"
		}
		apiURL := os.Getenv("SPOTIFY_API_URL")
		if apiURL == "" {
			apiURL = "https://api.spotify.com/v1"
		}
		spotifyService = &SpotifyService{
			clientID:     os.Getenv("SPOTIFY_CLIENT_ID"),
			clientSecret: os.Getenv("SPOTIFY_CLIENT_SECRET"),
			tokenURL:     tokenURL,
			apiURL:       apiURL,
			client:       &http.Client{Timeout: 10 * time.Second},
		}
	}
	return spotifyService
}

// TrackResult is the slice of track metadata submissions are built from
type TrackResult struct {
	SpotifyTrackID string `json:"spotifyTrackId"`
	SongTitle      string `json:"songTitle"`
	ArtistName     string `json:"artistName"`
	AlbumName      string `json:"albumName"`
	ImageURL       string `json:"imageUrl"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

type searchResponse struct {
	Tracks struct {
		Items []struct {
			ID      string `json:"id"`
			Name    string `json:"name"`
			Artists []struct {
				Name string `json:"name"`
			} `json:"artists"`
			Album struct {
				Name   string `json:"name"`
				Images []struct {
					URL string `json:"url"`
				} `json:"images"`
			} `json:"album"`
		} `json:"items"`
	} `json:"tracks"`
}

// token returns a cached app token, refreshing it shortly before expiry
func (s *SpotifyService) token() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.accessToken != "" && time.Now().Before(s.tokenExpiry) {
		return s.accessToken, nil
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	req, err := http.NewRequest(http.MethodPost, s.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(s.clientID, s.clientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("spotify token request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("spotify token request returned %d", resp.StatusCode)
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", fmt.Errorf("failed to decode spotify token response: %w", err)
	}

	s.accessToken = tr.AccessToken
	// Refresh 30s early so an in-flight search never carries a dead token
	s.tokenExpiry = time.Now().Add(time.Duration(tr.ExpiresIn)*time.Second - 30*time.Second)
	return s.accessToken, nil
}

// SearchTracks runs a track search and flattens the response into the
// metadata shape submissions expect
func (s *SpotifyService) SearchTracks(query string, limit int) ([]TrackResult, error) {
	if limit <= 0 || limit > 50 {
		limit = 10
	}

	bearer, err := s.token()
	if err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("q", query)
	params.Set("type", "track")
	params.Set("limit", strconv.Itoa(limit))

	req, err := http.NewRequest(http.MethodGet, s.apiURL+"/search?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+bearer)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("spotify search failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("spotify search returned %d", resp.StatusCode)
	}

	var sr searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return nil, fmt.Errorf("failed to decode spotify search response: %w", err)
	}

	results := make([]TrackResult, 0, len(sr.Tracks.Items))
	for _, item := range sr.Tracks.Items {
		tr := TrackResult{
			SpotifyTrackID: item.ID,
			SongTitle:      item.Name,
			AlbumName:      item.Album.Name,
		}
		if len(item.Artists) > 0 {
			tr.ArtistName = item.Artists[0].Name
		}
		if len(item.Album.Images) > 0 {
			tr.ImageURL = item.Album.Images[0].URL
		}
		results = append(results, tr)
	}
	return results, nil
}
