package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
)

func main() {
	var model, host, port string
	var threads int
	// Accept the subset of whisper-server flags the engine passes
	flag.StringVar(&model, "m", "", "model path")
	flag.StringVar(&host, "host", "127.0.0.1", "host")
	flag.StringVar(&port, "port", "0", "port")
	flag.IntVar(&threads, "t", 0, "threads")
	noGPU := flag.Bool("ng", false, "no gpu")
	flag.Parse()

	if _, err := os.Stat(model); err != nil {
		fmt.Fprintf(os.Stderr, "error: failed to load model %q\n", model)
		os.Exit(2)
	}
	ignoreTerm := os.Getenv("FAKE_WHISPER_IGNORE_TERM") == "1"

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("whisper.cpp server"))
	})
	mux.HandleFunc("/inference", func(w http.ResponseWriter, r *http.Request) {
		f, hdr, err := r.FormFile("file")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		defer f.Close()
		n, _ := io.Copy(io.Discard, f)
		text := fmt.Sprintf("%s %d bytes lang=%s ng=%v", hdr.Filename, n, r.FormValue("language"), *noGPU)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"text": text})
	})

	srv := &http.Server{Addr: host + ":" + port, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	for range sigCh {
		if !ignoreTerm {
			break
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
}
