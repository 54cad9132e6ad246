// happyrunner records running activities: heart rate from a BLE monitor,
// position from a location provider, live lap/total statistics, and an
// SQLite history. Headless; the recorded data is inspected with --list and
// the export flags.
package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/natefinch/lumberjack.v2"
	"tinygo.org/x/bluetooth"

	"github.com/gigilibala/happyrunner-sub000/internal/activity"
	"github.com/gigilibala/happyrunner-sub000/internal/ble"
	"github.com/gigilibala/happyrunner-sub000/internal/config"
	"github.com/gigilibala/happyrunner-sub000/internal/export"
	"github.com/gigilibala/happyrunner-sub000/internal/hrm"
	"github.com/gigilibala/happyrunner-sub000/internal/location"
	"github.com/gigilibala/happyrunner-sub000/internal/prefs"
	"github.com/gigilibala/happyrunner-sub000/internal/sim"
	"github.com/gigilibala/happyrunner-sub000/internal/store"
	"github.com/gigilibala/happyrunner-sub000/internal/units"
)

func main() {
	var (
		configFile = pflag.String("config", "", "config file path")
		simulate   = pflag.Bool("simulate", false, "use simulated sensors instead of real hardware")
		list       = pflag.Bool("list", false, "print recorded activities and exit")
		exportJSON = pflag.String("export-json", "", "activity id to export as JSON")
		exportCSV  = pflag.String("export-csv", "", "activity id whose laps to export as CSV")
		outPath    = pflag.String("out", "", "output path for export")
		deleteID   = pflag.String("delete", "", "activity id to delete")
	)
	pflag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "happyrunner: %v\n", err)
		os.Exit(1)
	}
	if *simulate {
		cfg.Simulate = true
	}

	logger := log.New(&lumberjack.Logger{
		Filename:   cfg.LogPath,
		MaxSize:    10, // MB
		MaxBackups: 3,
		MaxAge:     30, // days
	}, "", log.LstdFlags|log.Lmicroseconds)

	db, err := store.New(cfg.DBPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "happyrunner: open store: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	preferences := prefs.New(cfg.PrefsPath, logger)

	switch {
	case *list:
		exitOn(listActivities(db, preferences.Units()))
	case *exportJSON != "":
		exitOn(exportActivityJSON(db, *exportJSON, *outPath))
	case *exportCSV != "":
		exitOn(exportActivityCSV(db, *exportCSV, *outPath, preferences.Units()))
	case *deleteID != "":
		exitOn(db.DeleteActivity(*deleteID))
	default:
		run(cfg, db, preferences, logger)
	}
}

func exitOn(err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "happyrunner: %v\n", err)
		os.Exit(1)
	}
}

// run records one activity until interrupted.
func run(cfg config.Config, db *store.Store, preferences *prefs.Prefs, logger *log.Logger) {
	var manager ble.Manager
	posSource := activity.PositionSource(noPosition{})
	if cfg.Simulate {
		manager = sim.NewManager(logger)
		watcher := location.NewWatcher(sim.NewLocationProvider(logger), logger)
		if err := watcher.Start(location.DefaultOptions()); err != nil {
			logger.Printf("main: position watching unavailable: %v", err)
		} else {
			posSource = watcher
		}
		defer watcher.Stop()
	} else {
		// No platform position source is wired yet; recorded data carries no
		// position or derived speed until one exists. Manual speed entry
		// still works.
		manager = ble.NewAdapterManager(bluetooth.DefaultAdapter, logger, cfg.ScanTimeout)
	}

	monitor := hrm.NewMonitor(manager, preferences, logger)
	monitor.Initialize()
	defer monitor.Shutdown()
	defer manager.Shutdown()

	connectPreferred(monitor, cfg.ScanTimeout, logger)

	session := activity.NewSession(cfg.ActivityType, preferences.Units(), db, monitor, posSource, cfg.SampleInterval, logger)
	defer session.Shutdown()

	stateCh := make(chan activity.State, 4)
	unregister := session.ListenToState(stateCh)
	defer unregister()
	go func() {
		for state := range stateCh {
			fmt.Printf("\r[%s] lap %d  %s  %s %s  %s bpm        ",
				state.Status, state.LapNumber,
				state.Duration.Total, state.Distance.Total, unitLabel(preferences.Units()),
				state.HeartRate.Total)
		}
	}()

	session.Start()
	fmt.Println("recording; press Ctrl-C to stop")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	fmt.Println("\nstopping")
	session.Stop()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && session.GetState().Status != activity.StatusStopped {
		time.Sleep(20 * time.Millisecond)
	}
	// Shutdown waits for the pending persistence writes, so the lap summary
	// below reads finalized records.
	session.Shutdown()

	id := session.ActivityID()
	if laps, err := db.GetActivityLaps(id); err == nil && len(laps) > 0 {
		total := laps[0]
		fmt.Printf("recorded %s: %s, %s %s\n", id,
			units.FormatDurationHMS(total.DurationMs),
			preferences.Units().FormatDistance(total.Distance),
			unitLabel(preferences.Units()))
	}
}

// connectPreferred scans for the previously used monitor and connects to it.
// Best effort; recording works without heart rate.
func connectPreferred(monitor *hrm.Monitor, timeout time.Duration, logger *log.Logger) {
	address := monitor.PreferredDeviceAddress()
	if address == "" {
		logger.Printf("main: no preferred heart rate monitor saved")
		return
	}

	monitor.Scan()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		for _, dev := range monitor.GetState().Devices {
			if dev.Address == address {
				monitor.StopScan()
				monitor.Connect(address)
				return
			}
		}
		time.Sleep(200 * time.Millisecond)
	}
	monitor.StopScan()
	logger.Printf("main: preferred monitor %s not found", address)
}

func listActivities(db *store.Store, pref units.Preference) error {
	list, err := db.GetActivityList()
	if err != nil {
		return err
	}
	if len(list) == 0 {
		fmt.Println("no activities recorded")
		return nil
	}
	for _, d := range list {
		fmt.Printf("%s  %-8s  %-11s  %s  %s %s  avg hr %.0f\n",
			d.Activity.ID,
			d.Activity.Type,
			d.Activity.Status,
			d.Activity.StartTime.Local().Format("2006-01-02 15:04"),
			pref.FormatDistance(d.Total.Distance),
			unitLabel(pref),
			d.Total.HeartRateAvg)
	}
	return nil
}

func exportActivityJSON(db *store.Store, id, out string) error {
	a, err := db.GetActivity(id)
	if err != nil {
		return err
	}
	laps, err := db.GetActivityLaps(id)
	if err != nil {
		return err
	}
	data, err := db.GetActivityData(id)
	if err != nil {
		return err
	}
	if out == "" {
		out = id + ".json"
	}
	return export.ActivityToJSON(*a, laps, data, out)
}

func exportActivityCSV(db *store.Store, id, out string, pref units.Preference) error {
	a, err := db.GetActivity(id)
	if err != nil {
		return err
	}
	laps, err := db.GetActivityLaps(id)
	if err != nil {
		return err
	}
	if out == "" {
		out = id + ".csv"
	}
	return export.LapsToCSV(*a, laps, pref, out)
}

// noPosition reports no fix. The session omits position and derived speed
// from every record it writes.
type noPosition struct{}

func (noPosition) LastPosition() (location.Position, bool) {
	return location.Position{}, false
}

func unitLabel(pref units.Preference) string {
	if pref.Distance == units.DistanceMiles {
		return "mi"
	}
	return "km"
}
