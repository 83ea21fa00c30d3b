package geoip

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"auditwatch/internal/models"
)

// DefaultAPIURL is the ip-api.com JSON endpoint; the address is appended to it.
const DefaultAPIURL = "http://ip-api.com/json/"

// cacheTTL 缓存条目过期后重新查询
const cacheTTL = 30 * 24 * time.Hour

// Location is the resolved position of a source address.
type Location struct {
	IP        string  `json:"ip"`
	Country   string  `json:"country,omitempty"`
	Region    string  `json:"region,omitempty"`
	City      string  `json:"city,omitempty"`
	ISP       string  `json:"isp,omitempty"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// apiResponse is the ip-api.com wire format.
type apiResponse struct {
	Status     string  `json:"status"`
	Message    string  `json:"message"`
	Query      string  `json:"query"`
	Country    string  `json:"country"`
	RegionName string  `json:"regionName"`
	City       string  `json:"city"`
	ISP        string  `json:"isp"`
	Lat        float64 `json:"lat"`
	Lon        float64 `json:"lon"`
}

type Service struct {
	db         *gorm.DB
	httpClient *http.Client
	apiURL     string
	now        func() time.Time
}

// NewService returns a locator that caches lookups in db. A nil db disables caching.
func NewService(db *gorm.DB, apiURL string, timeout time.Duration) *Service {
	if apiURL == "" {
		apiURL = DefaultAPIURL
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Service{
		db:         db,
		httpClient: &http.Client{Timeout: timeout},
		apiURL:     apiURL,
		now:        time.Now,
	}
}

// Locate resolves ip. Private, loopback and unparseable addresses return (nil, nil).
func (s *Service) Locate(ctx context.Context, ip string) (*Location, error) {
	parsed := net.ParseIP(ip)
	if parsed == nil || parsed.IsPrivate() || parsed.IsLoopback() || parsed.IsUnspecified() || parsed.IsLinkLocalUnicast() {
		return nil, nil
	}
	ip = parsed.String()

	if loc, ok := s.cached(ctx, ip); ok {
		return loc, nil
	}

	loc, err := s.queryAPI(ctx, ip)
	if err != nil {
		return nil, err
	}

	if s.db != nil {
		row := models.IPGeoCache{
			IP:        loc.IP,
			Country:   loc.Country,
			Region:    loc.Region,
			City:      loc.City,
			ISP:       loc.ISP,
			Latitude:  loc.Latitude,
			Longitude: loc.Longitude,
			UpdatedAt: s.now(),
		}
		if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error; err != nil {
			return loc, fmt.Errorf("failed to cache IP geo data: %w", err)
		}
	}

	return loc, nil
}

func (s *Service) cached(ctx context.Context, ip string) (*Location, bool) {
	if s.db == nil {
		return nil, false
	}
	var row models.IPGeoCache
	if err := s.db.WithContext(ctx).Where("ip = ?", ip).First(&row).Error; err != nil {
		return nil, false
	}
	if s.now().Sub(row.UpdatedAt) > cacheTTL {
		return nil, false
	}
	return &Location{
		IP:        row.IP,
		Country:   row.Country,
		Region:    row.Region,
		City:      row.City,
		ISP:       row.ISP,
		Latitude:  row.Latitude,
		Longitude: row.Longitude,
	}, true
}

func (s *Service) queryAPI(ctx context.Context, ip string) (*Location, error) {
	u, err := url.Parse(s.apiURL + url.PathEscape(ip))
	if err != nil {
		return nil, fmt.Errorf("failed to parse API URL: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to query API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	var result apiResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if result.Status != "" && result.Status != "success" {
		return nil, errors.New("lookup failed: " + result.Message)
	}
	if result.Query == "" {
		result.Query = ip
	}

	return &Location{
		IP:        result.Query,
		Country:   result.Country,
		Region:    result.RegionName,
		City:      result.City,
		ISP:       result.ISP,
		Latitude:  result.Lat,
		Longitude: result.Lon,
	}, nil
}
