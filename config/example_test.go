package config_test

import (
	"fmt"
	"log"

	"github.com/Rensir56/SegTool-for-Jade/config"
)

// ExampleLoader_Load layers a production override on a YAML base file.
func ExampleLoader_Load() {
	loader := config.NewLoader()
	loader.AddLayer("testdata/base.yaml")
	loader.AddLayer("testdata/production.json")

	cfg, err := loader.Load()
	if err != nil {
		log.Fatal(err)
	}

	fmt.Println(cfg.Service.Name)
	fmt.Println(cfg.Broker.Workers, cfg.Broker.RetryCap)
	fmt.Println(cfg.Cache.TTL.Session, cfg.Broker.DeadLetterMaxAge)
	// Output:
	// segdispatch
	// 16 5m0s
	// 24h0m0s 336h0m0s
}

// ExampleSafeConfig shows that callers only ever see copies.
func ExampleSafeConfig() {
	safe := config.NewSafeConfig(config.Default())

	snapshot := safe.Get()
	snapshot.Broker.Workers = 99

	fmt.Println(safe.Get().Broker.Workers)
	// Output: 4
}
