package main

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	httpserver "github.com/and161185/alurea-fulfillment/internal/server/http"
)

// apiError is a non-2xx reply.
type apiError struct {
	Status  int
	Message string `json:"error"`
	ItemID  string `json:"item_id"`
}

func (e *apiError) Error() string {
	if e.ItemID != "" {
		return fmt.Sprintf("%d %s (item %s)", e.Status, e.Message, e.ItemID)
	}
	return fmt.Sprintf("%d %s", e.Status, e.Message)
}

type session struct {
	Token       string    `json:"token"`
	ExpiresAt   time.Time `json:"expiresAt"`
	RedirectURL string    `json:"redirectUrl"`
	User        struct {
		ID    string `json:"id"`
		Name  string `json:"name"`
		Email string `json:"email"`
		Role  string `json:"role"`
	} `json:"user"`
}

type order struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Address     string          `json:"address"`
	Contact     string          `json:"contact"`
	Status      string          `json:"status"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	Latitude    float64         `json:"latitude"`
	Longitude   float64         `json:"longitude"`
	ProofPhoto  string          `json:"proof_photo,omitempty"`
}

type location struct {
	Lat       float64   `json:"lat"`
	Lon       float64   `json:"lon"`
	UpdatedAt time.Time `json:"updated_at"`
}

// client talks to the fulfillment HTTP API.
type client struct {
	base  *url.URL
	token string
	tls   *tls.Config
	http  *http.Client
}

// loadTLS returns nil when the system roots are enough.
func loadTLS(caPath string, insecure bool) (*tls.Config, error) {
	if insecure {
		return &tls.Config{InsecureSkipVerify: true}, nil //nolint:gosec // dev only
	}
	if caPath == "" {
		return nil, nil
	}
	pem, err := os.ReadFile(caPath)
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, errors.New("bad CA cert")
	}
	return &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12}, nil
}

func newClient(addr, token string, tlsCfg *tls.Config) (*client, error) {
	u, err := url.Parse(strings.TrimRight(addr, "/"))
	if err != nil {
		return nil, fmt.Errorf("server address: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("server address %q: want http:// or https://", addr)
	}
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.TLSClientConfig = tlsCfg
	return &client{base: u, token: token, tls: tlsCfg, http: &http.Client{Timeout: 30 * time.Second, Transport: tr}}, nil
}

func (c *client) do(ctx context.Context, method, path string, body io.Reader, contentType string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, body)
	if err != nil {
		return err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		ae := &apiError{Status: resp.StatusCode}
		if json.NewDecoder(resp.Body).Decode(ae) != nil || ae.Message == "" {
			ae.Message = http.StatusText(resp.StatusCode)
		}
		return ae
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *client) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	return c.do(ctx, method, path, body, "application/json", out)
}

func (c *client) Login(ctx context.Context, email, password string) error {
	return c.doJSON(ctx, http.MethodPost, "/api/auth/login",
		map[string]string{"email": email, "password": password}, nil)
}

func (c *client) Verify(ctx context.Context, email, code string) (*session, error) {
	var s session
	err := c.doJSON(ctx, http.MethodPost, "/api/auth/verify-otp",
		map[string]string{"email": email, "otp": code}, &s)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (c *client) Orders(ctx context.Context, status string) ([]order, error) {
	path := "/api/orders"
	if status != "" {
		path += "?status=" + url.QueryEscape(status)
	}
	var out []order
	return out, c.doJSON(ctx, http.MethodGet, path, nil, &out)
}

func (c *client) StartDelivery(ctx context.Context, id string) (*order, error) {
	var o order
	return &o, c.doJSON(ctx, http.MethodPatch, "/api/orders/"+url.PathEscape(id)+"/deliver", nil, &o)
}

// Deliver uploads photo as the proof of delivery.
func (c *client) Deliver(ctx context.Context, id, name string, photo io.Reader) (*order, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("photo", filepath.Base(name))
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(part, photo); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}
	var o order
	return &o, c.do(ctx, http.MethodPost, "/api/orders/"+url.PathEscape(id)+"/deliver-proof", &buf, mw.FormDataContentType(), &o)
}

func (c *client) Push(ctx context.Context, lat, lon float64) (*location, error) {
	var loc location
	return &loc, c.doJSON(ctx, http.MethodPut, "/api/rider/location",
		map[string]float64{"lat": lat, "lon": lon}, &loc)
}

// Socket opens the position channel. The token travels as a query parameter.
func (c *client) Socket(ctx context.Context) (*websocket.Conn, error) {
	u := *c.base
	u.Scheme = strings.Replace(u.Scheme, "http", "ws", 1)
	u.Path = "/ws/location"
	if c.token != "" {
		u.RawQuery = url.Values{"token": {c.token}}.Encode()
	}
	dialer := *websocket.DefaultDialer
	dialer.TLSClientConfig = c.tls
	conn, resp, err := dialer.DialContext(ctx, u.String(), nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, &apiError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		}
		return nil, err
	}
	return conn, nil
}

// socketFrame is the frame format of the position channel.
type socketFrame = httpserver.SocketMessage
