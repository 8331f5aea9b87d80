package archive_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ridemesh/go-ridemesh/archive"
)

// fakeIPFS implements just enough of the IPFS HTTP API for the client.
type fakeIPFS struct {
	mu     sync.Mutex
	blobs  map[string][]byte
	pinned map[string]bool
	next   int
	failGw bool
}

func newFakeIPFS() *fakeIPFS {
	return &fakeIPFS{blobs: map[string][]byte{}, pinned: map[string]bool{}}
}

func (f *fakeIPFS) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v0/add", func(w http.ResponseWriter, r *http.Request) {
		if f.failGw {
			http.Error(w, "gateway down", http.StatusInternalServerError)
			return
		}
		file, _, err := r.FormFile("file")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		data, _ := io.ReadAll(file)
		f.mu.Lock()
		f.next++
		cid := "Qm" + string(rune('a'+f.next))
		f.blobs[cid] = data
		f.mu.Unlock()
		json.NewEncoder(w).Encode(map[string]any{"Name": "receipt.json", "Hash": cid})
	})
	mux.HandleFunc("/api/v0/pin/add", func(w http.ResponseWriter, r *http.Request) {
		cid := r.URL.Query().Get("arg")
		f.mu.Lock()
		f.pinned[cid] = true
		f.mu.Unlock()
		json.NewEncoder(w).Encode(map[string]any{"Pins": []string{cid}})
	})
	mux.HandleFunc("/api/v0/cat", func(w http.ResponseWriter, r *http.Request) {
		cid := r.URL.Query().Get("arg")
		f.mu.Lock()
		data, exist := f.blobs[cid]
		f.mu.Unlock()
		if !exist {
			http.Error(w, "not found", http.StatusInternalServerError)
			return
		}
		w.Write(data)
	})
	return mux
}

func testReceipt() archive.Receipt {
	return archive.Receipt{
		Driver:  archive.DriverInfo{DriverID: "12D3KooWDrv", Name: "Bilal"},
		Rider:   archive.RouteInfo{PickupLocation: "A", Destination: "B"},
		Vehicle: archive.VehicleInfo{Type: "car", Seats: 4, SelectedSeats: 2},
	}
}

func TestArchiveReceipt(t *testing.T) {
	fake := newFakeIPFS()
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	cfg := archive.DefaultConfig()
	cfg.URI = srv.URL
	cfg.Retries = 0
	client := archive.New(zaptest.NewLogger(t), cfg)

	cid, err := client.ArchiveReceipt(context.Background(), testReceipt())
	require.NoError(t, err)
	require.NotEmpty(t, cid)
	require.True(t, fake.pinned[cid])

	stored, err := client.Cat(context.Background(), cid)
	require.NoError(t, err)
	var verified archive.Receipt
	require.NoError(t, json.Unmarshal(stored, &verified))
	require.Equal(t, "12D3KooWDrv", verified.Driver.DriverID)
	require.Equal(t, "A", verified.Rider.PickupLocation)
}

func TestArchiveReceiptFailureIsReported(t *testing.T) {
	fake := newFakeIPFS()
	fake.failGw = true
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	cfg := archive.DefaultConfig()
	cfg.URI = srv.URL
	cfg.Retries = 0
	client := archive.New(zaptest.NewLogger(t), cfg)

	_, err := client.ArchiveReceipt(context.Background(), testReceipt())
	require.Error(t, err)
}
