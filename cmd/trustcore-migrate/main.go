// trustcore-migrate applies the SQL store schema to DATABASE_URL.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/MrEthical07/trustcore/internal/envconfig"
	"github.com/MrEthical07/trustcore/internal/migrate"
)

func main() {
	direction := flag.String("direction", migrate.Up, "Migration direction: up or down")
	showVersion := flag.Bool("version", false, "Print the applied schema version and exit")
	flag.Parse()

	settings, err := envconfig.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if settings.Store == envconfig.StoreRedis {
		fmt.Fprintln(os.Stderr, "TRUSTCORE_STORE=redis has no schema to migrate")
		os.Exit(1)
	}

	dsn := migrate.URL(settings.Store, settings.DatabaseURL)
	if *showVersion {
		v, dirty, err := migrate.Version(dsn)
		if err != nil {
			fmt.Fprintln(os.Stderr, "migrate:", err)
			os.Exit(1)
		}
		fmt.Printf("version=%d dirty=%t\n", v, dirty)
		return
	}

	if err := migrate.Run(dsn, *direction); err != nil {
		fmt.Fprintln(os.Stderr, "migrate:", err)
		os.Exit(1)
	}
}
