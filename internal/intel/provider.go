package intel

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Provider queries one external reputation source for an IP.
type Provider interface {
	Name() string
	Check(ctx context.Context, ip string) (*Source, error)
}

// VirusTotalProvider queries the VirusTotal v3 IP endpoint.
type VirusTotalProvider struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// NewVirusTotalProvider creates a VirusTotal provider.
func NewVirusTotalProvider(apiKey string, timeout time.Duration) *VirusTotalProvider {
	return &VirusTotalProvider{
		apiKey:  apiKey,
		baseURL: "https://www.virustotal.com/api/v3",
		client:  &http.Client{Timeout: timeout},
	}
}

func (p *VirusTotalProvider) Name() string { return "virustotal" }

// Check fetches the last analysis stats for the IP.
func (p *VirusTotalProvider) Check(ctx context.Context, ip string) (*Source, error) {
	url := fmt.Sprintf("%s/ip_addresses/%s", p.baseURL, ip)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("virustotal: build request: %w", err)
	}
	req.Header.Set("x-apikey", p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("virustotal: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("virustotal: status %d", resp.StatusCode)
	}

	var body struct {
		Data struct {
			Attributes struct {
				LastAnalysisStats map[string]int `json:"last_analysis_stats"`
				Reputation        int            `json:"reputation"`
			} `json:"attributes"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("virustotal: decode response: %w", err)
	}

	stats := body.Data.Attributes.LastAnalysisStats
	total := 0
	for _, n := range stats {
		total += n
	}

	return &Source{
		Name:            p.Name(),
		MaliciousCount:  stats["malicious"],
		SuspiciousCount: stats["suspicious"],
		TotalEngines:    total,
		Details: map[string]any{
			"reputation": body.Data.Attributes.Reputation,
		},
	}, nil
}

// ShodanProvider queries the Shodan host endpoint for exposure context.
type ShodanProvider struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// NewShodanProvider creates a Shodan provider.
func NewShodanProvider(apiKey string, timeout time.Duration) *ShodanProvider {
	return &ShodanProvider{
		apiKey:  apiKey,
		baseURL: "https://api.shodan.io",
		client:  &http.Client{Timeout: timeout},
	}
}

func (p *ShodanProvider) Name() string { return "shodan" }

// Check fetches open ports and known vulnerabilities for the IP.
func (p *ShodanProvider) Check(ctx context.Context, ip string) (*Source, error) {
	url := fmt.Sprintf("%s/shodan/host/%s?key=%s", p.baseURL, ip, p.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("shodan: build request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("shodan: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("shodan: status %d", resp.StatusCode)
	}

	var body struct {
		Ports   []int    `json:"ports"`
		Vulns   []string `json:"vulns"`
		Country string   `json:"country_name"`
		Org     string   `json:"org"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("shodan: decode response: %w", err)
	}

	return &Source{
		Name: p.Name(),
		Details: map[string]any{
			"open_ports":      body.Ports,
			"vulnerabilities": body.Vulns,
			"country":         body.Country,
			"organization":    body.Org,
		},
	}, nil
}
