// The importer CLI backfills the cycle event log from the readings archive
// for one appliance and date range.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/appliancemon/appliance-monitor/internal/config"
	"github.com/appliancemon/appliance-monitor/internal/database"
	"github.com/appliancemon/appliance-monitor/internal/importer"
	"github.com/appliancemon/appliance-monitor/internal/repository"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	var (
		applianceFlag = flag.String("appliance", "", "appliance ID or name (required)")
		fromFlag      = flag.String("from", "", "range start, RFC 3339 (required)")
		toFlag        = flag.String("to", "", "range end, RFC 3339 (required)")
		replaceFlag   = flag.Bool("replace", false, "delete events already in the range first")
		dryRunFlag    = flag.Bool("dry-run", false, "detect and report without writing")
	)
	flag.Parse()

	if *applianceFlag == "" || *fromFlag == "" || *toFlag == "" {
		flag.Usage()
		os.Exit(2)
	}
	from, err := time.Parse(time.RFC3339, *fromFlag)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid -from")
	}
	to, err := time.Parse(time.RFC3339, *toFlag)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid -to")
	}
	if !from.Before(to) {
		log.Fatal().Msg("-from must be before -to")
	}

	if err := config.Load(); err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}

	appliances, err := config.LoadAppliances(config.AppliancesFile())
	if err != nil {
		log.Fatal().Err(err).Msg("appliances load failed")
	}
	var target *config.Appliance
	for i := range appliances {
		if appliances[i].ID == *applianceFlag || appliances[i].Name == *applianceFlag {
			target = &appliances[i]
			break
		}
	}
	if target == nil {
		log.Fatal().Str("appliance", *applianceFlag).Msg("appliance not found in appliances file")
	}

	db, err := database.Connect()
	if err != nil {
		log.Fatal().Err(err).Msg("db connect failed")
	}
	defer db.Close()
	repos := repository.New(db)

	price := target.PriceKWH
	if price == 0 {
		price = config.PriceKWH()
	}

	imp := importer.New(repos, repos, log.Logger)
	report, err := imp.Run(context.Background(), *target, price, importer.Options{
		From:            from,
		To:              to,
		ReplaceExisting: *replaceFlag,
		DryRun:          *dryRunFlag,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("import failed")
	}

	out, _ := json.MarshalIndent(report, "", "  ")
	fmt.Println(string(out))
}
