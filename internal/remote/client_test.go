package remote

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"bookplayer/internal/config"
	"bookplayer/internal/library"
)

type stubDoer struct {
	requests []*http.Request
	bodies   []string
	status   int
	body     string
	err      error
}

func (d *stubDoer) Do(req *http.Request) (*http.Response, error) {
	d.requests = append(d.requests, req)
	if req.Body != nil {
		data, _ := io.ReadAll(req.Body)
		d.bodies = append(d.bodies, string(data))
	} else {
		d.bodies = append(d.bodies, "")
	}
	if d.err != nil {
		return nil, d.err
	}
	status := d.status
	if status == 0 {
		status = http.StatusOK
	}
	return &http.Response{
		StatusCode:    status,
		Body:          io.NopCloser(strings.NewReader(d.body)),
		ContentLength: int64(len(d.body)),
	}, nil
}

type staticTokens string

func (t staticTokens) Token(context.Context) (string, error) { return string(t), nil }

func newTestClient(doer *stubDoer) *Client {
	cfg := config.Default()
	cfg.API.BaseURL = "https://sync.invalid/v1/"
	return NewClient(&cfg, staticTokens("secret"), WithHTTPDoer(doer))
}

func TestUpdateItemRequestShape(t *testing.T) {
	doer := &stubDoer{}
	client := newTestClient(doer)

	err := client.UpdateItem(context.Background(), "Series/book.m4b", map[string]string{"currentTime": "42"})
	if err != nil {
		t.Fatalf("UpdateItem: %v", err)
	}

	req := doer.requests[0]
	if req.Method != http.MethodPatch {
		t.Fatalf("method = %s", req.Method)
	}
	if req.URL.String() != "https://sync.invalid/v1/library/Series/book.m4b" {
		t.Fatalf("url = %s", req.URL)
	}
	if got := req.Header.Get("Authorization"); got != "Bearer secret" {
		t.Fatalf("auth header = %q", got)
	}
	if !strings.Contains(doer.bodies[0], `"currentTime":"42"`) {
		t.Fatalf("body = %s", doer.bodies[0])
	}
}

func TestPathSegmentsAreEscaped(t *testing.T) {
	doer := &stubDoer{}
	client := newTestClient(doer)

	if err := client.DeleteItem(context.Background(), "A B/café.m4b", false); err != nil {
		t.Fatalf("DeleteItem: %v", err)
	}
	if got := doer.requests[0].URL.Path; got != "/v1/library/A B/café.m4b" {
		t.Fatalf("decoded path = %q", got)
	}
	if raw := doer.requests[0].URL.RawPath; raw != "" && strings.Contains(raw, " ") {
		t.Fatalf("raw path not escaped: %q", raw)
	}
}

func TestUploadItemSendsMetadataThenBytes(t *testing.T) {
	doer := &stubDoer{}
	client := newTestClient(doer)

	item := library.Item{RelativePath: "book.m4b", Kind: library.KindBook, Title: "Book", OriginalFileName: "book.m4b"}
	if err := client.UploadItem(context.Background(), item, bytes.NewReader([]byte("audio"))); err != nil {
		t.Fatalf("UploadItem: %v", err)
	}

	if len(doer.requests) != 2 {
		t.Fatalf("expected metadata + bytes requests, got %d", len(doer.requests))
	}
	if doer.requests[0].URL.Path != "/v1/library/book.m4b" {
		t.Fatalf("metadata path = %s", doer.requests[0].URL.Path)
	}
	if doer.requests[1].URL.Path != "/v1/storage/book.m4b" {
		t.Fatalf("bytes path = %s", doer.requests[1].URL.Path)
	}
	if doer.bodies[1] != "audio" {
		t.Fatalf("bytes body = %q", doer.bodies[1])
	}
}

func TestFolderUploadSkipsBytes(t *testing.T) {
	doer := &stubDoer{}
	client := newTestClient(doer)

	item := library.Item{RelativePath: "Series", Kind: library.KindFolder, Title: "Series", OriginalFileName: "Series"}
	if err := client.UploadItem(context.Background(), item, nil); err != nil {
		t.Fatalf("UploadItem: %v", err)
	}
	if len(doer.requests) != 1 {
		t.Fatalf("folder upload made %d requests", len(doer.requests))
	}
}

func TestStatusClassification(t *testing.T) {
	cases := []struct {
		status int
		marker error
	}{
		{http.StatusUnauthorized, ErrUnauthorized},
		{http.StatusForbidden, ErrUnauthorized},
		{http.StatusNotFound, ErrNotFound},
		{http.StatusConflict, ErrValidation},
		{http.StatusUnprocessableEntity, ErrValidation},
		{http.StatusTooManyRequests, ErrTransient},
		{http.StatusInternalServerError, ErrTransient},
		{http.StatusBadGateway, ErrTransient},
	}
	for _, tc := range cases {
		doer := &stubDoer{status: tc.status, body: "nope"}
		client := newTestClient(doer)
		err := client.UpdateItem(context.Background(), "book.m4b", nil)
		if !errors.Is(err, tc.marker) {
			t.Errorf("status %d: error %v not marked %v", tc.status, err, tc.marker)
		}
	}
}

func TestNetworkErrorIsTransient(t *testing.T) {
	doer := &stubDoer{err: errors.New("connection refused")}
	client := newTestClient(doer)

	err := client.UpdateItem(context.Background(), "book.m4b", nil)
	if !errors.Is(err, ErrTransient) {
		t.Fatalf("network error not marked transient: %v", err)
	}
	if !Transient(err) {
		t.Fatal("Transient() disagreed with marker")
	}
}

func TestFetchSnapshotDecodesItems(t *testing.T) {
	doer := &stubDoer{body: `{"items":[
        {"relativePath":"Series","type":"folder","title":"Series","originalFileName":"Series"},
        {"relativePath":"Series/one.m4b","type":"book","title":"One","originalFileName":"one.m4b","duration":600,"currentTime":42,"isFinished":true}
    ]}`}
	client := newTestClient(doer)

	items, err := client.FetchSnapshot(context.Background())
	if err != nil {
		t.Fatalf("FetchSnapshot: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("decoded %d items", len(items))
	}
	if items[0].Kind != library.KindFolder {
		t.Fatalf("first item kind = %s", items[0].Kind)
	}
	book := items[1]
	if book.CurrentTime != 42 || !book.IsFinished {
		t.Fatalf("book fields lost: %+v", book)
	}
}

func TestDownloadReportsProgress(t *testing.T) {
	doer := &stubDoer{body: strings.Repeat("x", 1000)}
	client := newTestClient(doer)

	var dst bytes.Buffer
	var last float64
	err := client.Download(context.Background(), "book.m4b", &dst, func(p float64) { last = p })
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if dst.Len() != 1000 {
		t.Fatalf("wrote %d bytes", dst.Len())
	}
	if last != 1 {
		t.Fatalf("final progress = %v", last)
	}
}

func TestTransientClassifier(t *testing.T) {
	if Transient(nil) {
		t.Fatal("nil error classified transient")
	}
	if Transient(Wrap(ErrValidation, "update", "book.m4b", nil)) {
		t.Fatal("validation error classified transient")
	}
	if !Transient(Wrap(ErrTransient, "update", "book.m4b", nil)) {
		t.Fatal("marked transient error not classified transient")
	}
	if !Transient(errors.New("who knows")) {
		t.Fatal("unmarked error should default to transient")
	}
}

func TestDownloadStateEqualityIgnoresProgress(t *testing.T) {
	a := DownloadState{Variant: Downloading, Progress: 0.2}
	b := DownloadState{Variant: Downloading, Progress: 0.9}
	if !a.Equal(b) {
		t.Fatal("progress delta broke equality")
	}
	if a.Equal(DownloadState{Variant: Downloaded}) {
		t.Fatal("different variants compared equal")
	}
}
