package auth

import (
	"bytes"
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha512"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
)

// DefaultURL is the Anaplan authentication endpoint.
const DefaultURL = "https://auth.anaplan.com/token/authenticate"

// nonceBytes is the size of the random challenge signed in the certificate flow.
const nonceBytes = 150

const userAgent = "anaplan-go/0.1"

// certificateRequest is the JSON body of the certificate flow.
type certificateRequest struct {
	EncodedData       string `json:"encodedData"`
	EncodedSignedData string `json:"encodedSignedData"`
}

// tokenResponse is the subset of the authentication response we consume.
type tokenResponse struct {
	TokenInfo struct {
		TokenValue string `json:"tokenValue"`
	} `json:"tokenInfo"`
}

// Authenticator mints AuthTokens using the protocol selected by its
// credentials. It holds no token state; see Session for that.
type Authenticator struct {
	creds      Credentials
	url        string
	httpClient *http.Client
	logger     *slog.Logger

	// random supplies the challenge nonce. Tests replace it for determinism.
	random io.Reader
}

// NewAuthenticator creates an Authenticator posting to url (DefaultURL when empty).
func NewAuthenticator(creds Credentials, url string, httpClient *http.Client, logger *slog.Logger) *Authenticator {
	if url == "" {
		url = DefaultURL
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Authenticator{
		creds:      creds,
		url:        url,
		httpClient: httpClient,
		logger:     logger,
		random:     rand.Reader,
	}
}

// Authenticate obtains a fresh token. A 401 from the endpoint is
// ErrInvalidCredentials; key loading problems are ErrInvalidPrivateKey.
func (a *Authenticator) Authenticate(ctx context.Context) (string, error) {
	var (
		req *http.Request
		err error
	)

	switch a.creds.Kind() {
	case KindBasic:
		req, err = a.basicRequest(ctx)
	case KindCertificate:
		req, err = a.certificateRequest(ctx)
	default:
		return "", ErrIncompleteCredentials
	}

	if err != nil {
		return "", err
	}

	a.logger.Debug("requesting authentication token",
		slog.String("protocol", a.creds.Kind().String()),
	)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("auth: authentication request failed: %w", err)
	}
	defer resp.Body.Close()

	return a.parseResponse(resp)
}

func (a *Authenticator) basicRequest(ctx context.Context) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("auth: creating request: %w", err)
	}

	encoded := base64.StdEncoding.EncodeToString([]byte(a.creds.email + ":" + a.creds.password))
	req.Header.Set("Authorization", "Basic "+encoded)
	req.Header.Set("User-Agent", userAgent)

	return req, nil
}

func (a *Authenticator) certificateRequest(ctx context.Context) (*http.Request, error) {
	cert, err := a.creds.certificate.load()
	if err != nil {
		return nil, fmt.Errorf("auth: loading certificate: %w", err)
	}

	key, err := loadPrivateKey(a.creds.privateKey, a.creds.keyPassword)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, nonceBytes)
	if _, err := io.ReadFull(a.random, nonce); err != nil {
		return nil, fmt.Errorf("auth: generating nonce: %w", err)
	}

	signature, err := sign(key, nonce)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(certificateRequest{
		EncodedData:       base64.StdEncoding.EncodeToString(nonce),
		EncodedSignedData: base64.StdEncoding.EncodeToString(signature),
	})
	if err != nil {
		return nil, fmt.Errorf("auth: marshaling certificate request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("auth: creating request: %w", err)
	}

	req.Header.Set("Authorization", "CACertificate "+base64.StdEncoding.EncodeToString(cert))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)

	return req, nil
}

// sign produces a PKCS#1 v1.5 signature over the SHA-512 digest of message.
func sign(key *rsa.PrivateKey, message []byte) ([]byte, error) {
	digest := sha512.Sum512(message)

	sig, err := rsa.SignPKCS1v15(nil, key, crypto.SHA512, digest[:])
	if err != nil {
		return nil, &KeyError{Reason: "signing challenge", Err: err}
	}

	return sig, nil
}

func (a *Authenticator) parseResponse(resp *http.Response) (string, error) {
	if resp.StatusCode == http.StatusUnauthorized {
		_, _ = io.Copy(io.Discard, resp.Body) //nolint:errcheck // drain for connection reuse
		a.logger.Warn("authentication rejected",
			slog.String("protocol", a.creds.Kind().String()),
		)

		return "", ErrInvalidCredentials
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(resp.Body) //nolint:errcheck // best-effort read for error message

		return "", &StatusError{StatusCode: resp.StatusCode, Message: string(body)}
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", fmt.Errorf("auth: decoding token response: %w", err)
	}

	if tr.TokenInfo.TokenValue == "" {
		return "", fmt.Errorf("auth: token response missing tokenInfo.tokenValue")
	}

	a.logger.Info("authentication token created",
		slog.String("protocol", a.creds.Kind().String()),
	)

	return tr.TokenInfo.TokenValue, nil
}
