package imagegen

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"net/http"
	"net/http/httptest"
	"slices"
	"sync"
	"testing"
)

// fakeSDAPI mimics the subset of the WebUI API the client uses.
type fakeSDAPI struct {
	mu         sync.Mutex
	checkpoint string
	requests   []txt2imgRequest
	imageSize  int // side of returned images; 0 means as requested
	corrupt    int // number of undecodable images to prepend
	failWith   int // status code for txt2img, 0 means success
	auth       string
}

func (f *fakeSDAPI) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /sdapi/v1/sd-models", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.auth = r.Header.Get("Authorization")
		f.mu.Unlock()
		json.NewEncoder(w).Encode([]sdModel{{Title: "sd_xl_base_1.0.safetensors [31e35c80fc]", ModelName: "sd_xl_base_1.0"}})
	})
	mux.HandleFunc("POST /sdapi/v1/options", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		f.checkpoint = body["sd_model_checkpoint"]
		f.mu.Unlock()
		w.Write([]byte("null"))
	})
	mux.HandleFunc("POST /sdapi/v1/txt2img", func(w http.ResponseWriter, r *http.Request) {
		var req txt2imgRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		f.requests = append(f.requests, req)
		size, corrupt, fail := f.imageSize, f.corrupt, f.failWith
		f.mu.Unlock()
		if fail != 0 {
			http.Error(w, `{"error":"OutOfMemoryError"}`, fail)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		resp := txt2imgResponse{Info: `{"seed": 777}`}
		for i := 0; i < corrupt; i++ {
			resp.Images = append(resp.Images, base64.StdEncoding.EncodeToString([]byte("not an image")))
		}
		for i := 0; i < req.BatchSize; i++ {
			wd, ht := req.Width, req.Height
			if size > 0 {
				wd, ht = size, size
			}
			resp.Images = append(resp.Images, testPNG(t, wd, ht))
		}
		json.NewEncoder(w).Encode(resp)
	})
	return mux
}

func testPNG(t *testing.T, w, h int) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, x%h, color.RGBA{R: 255, A: 255})
	}
	var buf bytes.Buffer
	if err := EncodePNG(&buf, img); err != nil {
		t.Fatalf("EncodePNG() error = %v", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func newFakeServer(t *testing.T) (*fakeSDAPI, *httptest.Server) {
	t.Helper()
	f := &fakeSDAPI{}
	srv := httptest.NewServer(f.handler(t))
	t.Cleanup(srv.Close)
	return f, srv
}

func TestClient_LoadCheckpoint(t *testing.T) {
	f, srv := newFakeServer(t)
	c := NewClient(srv.URL, ClientConfig{APIKey: "secret"})

	if err := c.LoadCheckpoint(context.Background(), "sd_xl_base_1.0"); err != nil {
		t.Fatalf("LoadCheckpoint() error = %v", err)
	}
	if f.checkpoint != "sd_xl_base_1.0" {
		t.Errorf("checkpoint = %q", f.checkpoint)
	}
	if f.auth != "Bearer secret" {
		t.Errorf("Authorization = %q", f.auth)
	}
}

func TestClient_LoadCheckpointUnknownModel(t *testing.T) {
	_, srv := newFakeServer(t)
	c := NewClient(srv.URL, ClientConfig{})
	err := c.LoadCheckpoint(context.Background(), "black-forest-labs/FLUX.1-dev")
	if !errors.Is(err, ErrModelNotFound) {
		t.Errorf("LoadCheckpoint() error = %v, want ErrModelNotFound", err)
	}
}

func TestClient_ListModelsWithoutJSONContentType(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte(`[{"title":"v1-5-pruned.safetensors","model_name":"v1-5-pruned"}]`))
	}))
	t.Cleanup(srv.Close)

	got, err := NewClient(srv.URL, ClientConfig{}).ListModels(context.Background())
	if err != nil {
		t.Fatalf("ListModels() error = %v", err)
	}
	want := []string{"v1-5-pruned.safetensors", "v1-5-pruned"}
	if !slices.Equal(got, want) {
		t.Errorf("ListModels() = %v, want %v", got, want)
	}
}

func TestClient_Txt2ImgBackendError(t *testing.T) {
	f, srv := newFakeServer(t)
	f.failWith = http.StatusInternalServerError
	c := NewClient(srv.URL, ClientConfig{})

	_, _, err := c.Txt2Img(context.Background(), validParams())
	if !errors.Is(err, ErrBackend) {
		t.Errorf("Txt2Img() error = %v, want ErrBackend", err)
	}
}

func TestRemotePipeline_Generate(t *testing.T) {
	f, srv := newFakeServer(t)
	f.imageSize = 64
	f.corrupt = 1
	pipe := &RemotePipeline{DeviceID: "cuda:0", Model: "sd_xl", Family: FamilyXL, Backend: NewClient(srv.URL, ClientConfig{})}

	p := validParams()
	p.Width, p.Height, p.NumImages, p.NegativePrompt = 128, 256, 2, "blurry"
	batch, err := pipe.Generate(context.Background(), p)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if len(batch.Images) != 2 || batch.Skipped != 1 {
		t.Fatalf("images/skipped = %d/%d, want 2/1", len(batch.Images), batch.Skipped)
	}
	if b := batch.Images[0].Bounds(); b.Dx() != 128 || b.Dy() != 256 {
		t.Errorf("image size = %v, want 128x256", b)
	}
	if batch.Seed != 777 {
		t.Errorf("Seed = %d, want 777 from info", batch.Seed)
	}
	req := f.requests[0]
	if req.NegativePrompt != "blurry" || req.Seed < 0 || req.BatchSize != 2 {
		t.Errorf("request = %+v", req)
	}
}

func TestRemotePipeline_FluxDropsNegativePrompt(t *testing.T) {
	f, srv := newFakeServer(t)
	pipe := &RemotePipeline{DeviceID: "cuda:0", Family: FamilyFLUX, Backend: NewClient(srv.URL, ClientConfig{})}

	p := validParams()
	p.Width, p.Height, p.NumImages, p.NegativePrompt, p.Seed = 128, 128, 1, "blurry", 42
	if _, err := pipe.Generate(context.Background(), p); err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if got := f.requests[0]; got.NegativePrompt != "" || got.Seed != 42 {
		t.Errorf("request = %+v, want no negative prompt and seed 42", got)
	}
}

func TestRemotePipeline_NothingDecodable(t *testing.T) {
	pipe := &RemotePipeline{DeviceID: "cpu", Family: FamilySD, Backend: backendFunc(func(ctx context.Context, p GenerateParams) ([]string, int64, error) {
		return []string{"!!!"}, 1, nil
	})}
	p := validParams()
	p.Width, p.Height = 128, 128
	if _, err := pipe.Generate(context.Background(), p); !errors.Is(err, ErrNoImages) {
		t.Errorf("Generate() error = %v, want ErrNoImages", err)
	}
}

type backendFunc func(ctx context.Context, p GenerateParams) ([]string, int64, error)

func (f backendFunc) Txt2Img(ctx context.Context, p GenerateParams) ([]string, int64, error) {
	return f(ctx, p)
}

func TestSeedFromInfo(t *testing.T) {
	if got := seedFromInfo("", 5); got != 5 {
		t.Errorf("empty info = %d", got)
	}
	if got := seedFromInfo("not json", 5); got != 5 {
		t.Errorf("bad info = %d", got)
	}
	if got := seedFromInfo(`{"seed": 9, "steps": 20}`, 5); got != 9 {
		t.Errorf("info seed = %d", got)
	}
}
