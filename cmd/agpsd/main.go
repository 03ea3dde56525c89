package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"agpsd/internal/aid"
	"agpsd/internal/config"
	"agpsd/internal/fetch"
	"agpsd/internal/store"
	"agpsd/internal/transport"
	"agpsd/internal/ubx"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "./agpsd.yaml", "Path to YAML config")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if cfg.Serial.ResetPin > 0 {
		if err := transport.PulseReset(cfg.Serial.ResetPin, cfg.Serial.ResetHold); err != nil {
			// The receiver usually comes up fine without the pulse.
			log.Printf("receiver reset pulse failed: %v", err)
		}
	}

	tr, err := transport.Open(transport.Config{Device: cfg.Serial.Device, Baud: cfg.Serial.Baud})
	if err != nil {
		log.Fatalf("transport open failed: %v", err)
	}
	defer tr.Close()

	neg := aid.NewNegotiator(tr)
	tr.RegisterCallback(ubx.ClassMonVer, neg.HandleVersion)

	disp := aid.NewDispatcher(tr, neg.Ready)
	tr.RegisterCallback(ubx.ClassMgaAck, disp.HandleAck)

	if err := tr.Start(ctx); err != nil {
		log.Fatalf("transport start failed: %v", err)
	}

	log.Printf("agpsd starting")

	if err := neg.Negotiate(ctx); err != nil {
		log.Fatalf("version negotiation failed: %v", err)
	}

	client, err := fetch.New(fetch.Config{
		Token:          cfg.Service.Token,
		OnlinePrimary:  cfg.Service.OnlinePrimary,
		OnlineBackup:   cfg.Service.OnlineBackup,
		OfflinePrimary: cfg.Service.OfflinePrimary,
		OfflineBackup:  cfg.Service.OfflineBackup,
		HTTPClient:     &http.Client{Timeout: cfg.Service.Timeout},
	})
	if err != nil {
		log.Fatalf("fetch client init failed: %v", err)
	}

	var st *store.Store
	if cfg.Aiding.Offline {
		st, err = store.Open(cfg.Store.Dir)
		if err != nil {
			log.Fatalf("store open failed: %v", err)
		}
	}

	feed(ctx, cfg, client, st, disp)

	ticker := time.NewTicker(cfg.Aiding.Refresh)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Printf("agpsd stopping")
			return
		case <-ticker.C:
			feed(ctx, cfg, client, st, disp)
		}
	}
}

// feed runs one assistance cycle: queue a time assist, current online data
// and today's offline bucket, then drain the queue and wait for completion.
func feed(ctx context.Context, cfg config.Config, client *fetch.Client, st *store.Store, disp *aid.Dispatcher) {
	queued := false

	if payload, ok := aid.EncodeTimeAssist(time.Now(), cfg.Aiding.MinYear); ok {
		queued = disp.Enqueue(ubx.Encode(ubx.ClassMgaIni, payload)) || queued
	} else {
		log.Printf("system clock year below %d, skipping time assist", cfg.Aiding.MinYear)
	}

	if cfg.Aiding.Online {
		body, err := client.Online(ctx, map[string]any{
			"gnss":     cfg.Service.GNSS,
			"datatype": cfg.Service.DataTypes,
		})
		if err != nil {
			log.Printf("online fetch failed: %v", err)
		} else {
			queued = disp.Enqueue(body) || queued
			log.Printf("online data queued bytes=%d", len(body))
		}
	}

	if cfg.Aiding.Offline && st != nil {
		if data, ok := offlineToday(ctx, cfg, client, st); ok {
			queued = disp.Enqueue(data) || queued
			log.Printf("offline data queued day=%s bytes=%d", today(), len(data))
		}
	}

	if !queued {
		log.Printf("nothing to send this cycle")
		return
	}

	done := make(chan []aid.AckError, 1)
	disp.Start(ctx, func(errs []aid.AckError) { done <- errs })

	select {
	case <-ctx.Done():
	case errs := <-done:
		if len(errs) == 0 {
			log.Printf("assistance cycle complete, all messages accepted")
			return
		}
		log.Printf("assistance cycle complete with %d rejected messages", len(errs))
		for _, e := range errs {
			log.Printf("  %v", e)
		}
	}
}

func today() string {
	return time.Now().UTC().Format("20060102")
}

// offlineToday returns today's offline bucket, downloading and re-bucketing
// the multi-week offline data when today's file is not on disk yet.
func offlineToday(ctx context.Context, cfg config.Config, client *fetch.Client, st *store.Store) ([]byte, bool) {
	day := today()

	if !st.Exists(day) {
		body, err := client.Offline(ctx, map[string]any{
			"gnss":       cfg.Service.GNSS,
			"period":     cfg.Service.PeriodWeeks,
			"resolution": cfg.Service.Resolution,
		})
		if err != nil {
			log.Printf("offline fetch failed: %v", err)
			return nil, false
		}
		buckets := aid.BucketByDay(http.StatusOK, body)
		if err := st.SaveBuckets(buckets); err != nil {
			log.Printf("offline store failed: %v", err)
			return nil, false
		}
		if removed, err := st.Prune(day); err != nil {
			log.Printf("store prune failed: %v", err)
		} else if removed > 0 {
			log.Printf("pruned %d stale day files", removed)
		}
	}

	data, err := st.Read(day)
	if err != nil {
		log.Printf("offline read failed day=%s: %v", day, err)
		// A corrupt file will be refetched next cycle.
		_ = st.Erase(day)
		return nil, false
	}
	return data, true
}
