//go:build integration

package cortado

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/arawak/cortado/internal/catalog"
	"github.com/arawak/cortado/internal/config"
	"github.com/arawak/cortado/internal/httpapi"
	"github.com/arawak/cortado/internal/media"
	"github.com/arawak/cortado/internal/store"
	"github.com/arawak/cortado/migrations"
)

type coffeeMutation struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Price    float64  `json:"price"`
	ImageURL string   `json:"imageUrl"`
	Tags     []string `json:"tags"`
	Message  string   `json:"message"`
}

type coffeeDetail struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Tags []struct {
		ID   int64  `json:"id"`
		Name string `json:"name"`
	} `json:"tags"`
}

type searchResponse struct {
	Data       []coffeeMutation `json:"data"`
	Pagination struct {
		Limit      int  `json:"limit"`
		Offset     int  `json:"offset"`
		TotalCount int  `json:"totalCount"`
		HasMore    bool `json:"hasMore"`
	} `json:"pagination"`
}

func startMaria(t *testing.T, ctx context.Context) (testcontainers.Container, string) {
	req := testcontainers.ContainerRequest{
		Image:        "mariadb:11.4",
		Env:          map[string]string{"MARIADB_ROOT_PASSWORD": "root", "MARIADB_DATABASE": "cortado", "MARIADB_USER": "cortado", "MARIADB_PASSWORD": "cortado"},
		ExposedPorts: []string{"3306/tcp"},
		WaitingFor:   wait.ForListeningPort("3306/tcp").WithStartupTimeout(60 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{ContainerRequest: req, Started: true})
	if err != nil {
		t.Fatalf("start mariadb: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "3306/tcp")
	if err != nil {
		t.Fatalf("mapped port: %v", err)
	}
	dsn := fmt.Sprintf("cortado:cortado@tcp(%s:%s)/cortado?parseTime=true&multiStatements=true", host, port.Port())
	return container, dsn
}

func TestEndToEnd(t *testing.T) {
	ctx := context.Background()

	container, dsn := startMaria(t, ctx)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	if err := migrations.Up(dsn); err != nil {
		t.Fatalf("migrations failed: %v", err)
	}

	db, err := sqlx.Connect("mysql", dsn)
	if err != nil {
		t.Fatalf("db connect: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	cfg := &config.Config{
		Bind:            ":0",
		DBDSN:           dsn,
		StorageRoot:     t.TempDir(),
		MaxUploadBytes:  config.DefaultMaxUploadBytes,
		MaxPixels:       config.DefaultMaxPixels,
		ContentMaxWidth: config.DefaultContentMaxWidth,
		ThumbMaxWidth:   config.DefaultThumbMaxWidth,
		PublicMedia:     true,
		AuthMode:        config.AuthNone,
		SwaggerUIPath:   "/swagger",
		OpenAPIPath:     "/openapi.yaml",
	}
	st := store.New(db)
	svc := catalog.NewService(st)
	mediaMgr := media.NewManager(cfg.StorageRoot, cfg.ContentMaxWidth, cfg.ThumbMaxWidth)
	ts := httptest.NewServer(httpapi.NewRouter(cfg, st, svc, mediaMgr, nil, nil))
	t.Cleanup(ts.Close)

	latteID := createCoffee(t, ts.URL, `{"name":"Latte","description":"milky","price":12.50,"tags":["Tradicional ", " GELADO"]}`)
	rejectDuplicateName(t, ts.URL)
	createCoffee(t, ts.URL, `{"name":"Gelado Especial","description":"iced","price":18,"tags":["tradicional","especial"]}`)
	checkTagReuse(t, ts.URL)
	checkDetailShape(t, ts.URL, latteID)
	replaceTags(t, ts.URL, latteID)
	searchByPrice(t, ts.URL)
	searchByTag(t, ts.URL)
	uploadAndServeImage(t, ts.URL, latteID)
	deleteAndVerify(t, ts.URL, st, latteID)
	readyz(t, ts.URL)
}

func createCoffee(t *testing.T, base, body string) string {
	resp, err := http.Post(base+"/api/coffees", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		b, _ := io.ReadAll(resp.Body)
		t.Fatalf("create status %d body %s", resp.StatusCode, string(b))
	}
	var got coffeeMutation
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode create: %v", err)
	}
	if got.ID == "" || got.Message == "" {
		t.Fatalf("incomplete create response: %+v", got)
	}
	if strings.HasPrefix(got.Name, "Latte") {
		// Tags come back alphabetically from the store.
		if len(got.Tags) != 2 || got.Tags[0] != "gelado" || got.Tags[1] != "tradicional" {
			t.Fatalf("expected canonical tags, got %v", got.Tags)
		}
		if got.Price != 12.5 {
			t.Fatalf("price should round-trip as a number, got %v", got.Price)
		}
	}
	return got.ID
}

func rejectDuplicateName(t *testing.T, base string) {
	resp, err := http.Post(base+"/api/coffees", "application/json", strings.NewReader(`{"name":"Latte","price":9}`))
	if err != nil {
		t.Fatalf("duplicate create: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for duplicate name, got %d", resp.StatusCode)
	}
}

func checkTagReuse(t *testing.T, base string) {
	resp, err := http.Get(base + "/api/tags")
	if err != nil {
		t.Fatalf("list tags: %v", err)
	}
	defer resp.Body.Close()
	var got struct {
		Total int `json:"total"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode tags: %v", err)
	}
	// tradicional, gelado, especial; the shared "tradicional" row is reused.
	if got.Total != 3 {
		t.Fatalf("expected 3 tag rows, got %d", got.Total)
	}
}

func checkDetailShape(t *testing.T, base, id string) {
	resp, err := http.Get(base + "/api/coffees/" + id)
	if err != nil {
		t.Fatalf("get coffee: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get status %d", resp.StatusCode)
	}
	var got coffeeDetail
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode detail: %v", err)
	}
	if len(got.Tags) != 2 || got.Tags[0].ID == 0 {
		t.Fatalf("expected tag objects with ids, got %+v", got.Tags)
	}
}

func replaceTags(t *testing.T, base, id string) {
	req, _ := http.NewRequest(http.MethodPatch, base+"/api/coffees/"+id, strings.NewReader(`{"tags":["Novo "]}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("patch: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		t.Fatalf("patch status %d body %s", resp.StatusCode, string(b))
	}
	var got coffeeMutation
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode patch: %v", err)
	}
	if len(got.Tags) != 1 || got.Tags[0] != "novo" {
		t.Fatalf("expected full tag replacement, got %v", got.Tags)
	}
}

func searchByPrice(t *testing.T, base string) {
	resp, err := http.Get(base + "/api/coffees/search?minPrice=10&maxPrice=20&limit=1")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	defer resp.Body.Close()
	var got searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode search: %v", err)
	}
	if got.Pagination.TotalCount != 2 || len(got.Data) != 1 || !got.Pagination.HasMore {
		t.Fatalf("unexpected price search result: %+v", got.Pagination)
	}
}

func searchByTag(t *testing.T, base string) {
	resp, err := http.Get(base + "/api/coffees/search?tags=%20ESPECIAL%20")
	if err != nil {
		t.Fatalf("tag search: %v", err)
	}
	defer resp.Body.Close()
	var got searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode tag search: %v", err)
	}
	if len(got.Data) != 1 || got.Data[0].Name != "Gelado Especial" {
		t.Fatalf("unexpected tag search result: %+v", got.Data)
	}
	if got.Pagination.HasMore {
		t.Fatal("hasMore should be false when the page covers all matches")
	}
}

func uploadAndServeImage(t *testing.T, base, id string) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	w, err := mw.CreateFormFile("file", "latte.png")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	img := image.NewRGBA(image.Rect(0, 0, 16, 16))
	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			img.Set(x, y, color.RGBA{R: 120, G: 80, B: 40, A: 255})
		}
	}
	if err := png.Encode(w, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	mw.Close()

	req, _ := http.NewRequest(http.MethodPost, base+"/api/coffees/"+id+"/image", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		t.Fatalf("upload status %d body %s", resp.StatusCode, string(b))
	}

	mediaURL := fmt.Sprintf("%s/media/%s/content", base, id)
	mresp, err := http.Get(mediaURL)
	if err != nil {
		t.Fatalf("media get: %v", err)
	}
	defer mresp.Body.Close()
	if mresp.StatusCode != http.StatusOK {
		t.Fatalf("media status %d", mresp.StatusCode)
	}
	etag := mresp.Header.Get("ETag")
	if etag == "" || mresp.Header.Get("Cache-Control") == "" {
		t.Fatal("missing caching headers")
	}

	req2, _ := http.NewRequest(http.MethodGet, mediaURL, nil)
	req2.Header.Set("If-None-Match", etag)
	resp2, err := http.DefaultClient.Do(req2)
	if err != nil {
		t.Fatalf("etag request: %v", err)
	}
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusNotModified {
		t.Fatalf("expected 304, got %d", resp2.StatusCode)
	}
}

func deleteAndVerify(t *testing.T, base string, st *store.Store, id string) {
	req, _ := http.NewRequest(http.MethodDelete, base+"/api/coffees/"+id, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		t.Fatalf("delete status %d body %s", resp.StatusCode, string(b))
	}
	var got struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode delete: %v", err)
	}
	if got.Message == "" {
		t.Fatal("expected confirmation message")
	}

	gresp, err := http.Get(base + "/api/coffees/" + id)
	if err != nil {
		t.Fatalf("get after delete: %v", err)
	}
	defer gresp.Body.Close()
	if gresp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", gresp.StatusCode)
	}

	var links int
	if err := st.DB().Get(&links, "SELECT COUNT(*) FROM coffee_tag WHERE coffee_id = ?", id); err != nil {
		t.Fatalf("count links: %v", err)
	}
	if links != 0 {
		t.Fatalf("expected tag links to cascade, %d left", links)
	}

	// Tag rows outlive the coffees that carried them.
	checkTagReuse2(t, base)
}

func checkTagReuse2(t *testing.T, base string) {
	resp, err := http.Get(base + "/api/tags")
	if err != nil {
		t.Fatalf("list tags: %v", err)
	}
	defer resp.Body.Close()
	var got struct {
		Total int `json:"total"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode tags: %v", err)
	}
	if got.Total < 3 {
		t.Fatalf("tags should not be garbage-collected, got %d", got.Total)
	}
}

func readyz(t *testing.T, base string) {
	resp, err := http.Get(base + "/readyz")
	if err != nil {
		t.Fatalf("readyz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		t.Fatalf("readyz status %d body %s", resp.StatusCode, string(b))
	}
}
