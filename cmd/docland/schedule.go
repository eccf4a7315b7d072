package docland

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/docland/docland/internal/scheduler"
	"github.com/docland/docland/pkg/container"
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Manage scraper cron schedules",
}

var scheduleListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured schedules",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := container.Get()
		if err != nil {
			return err
		}
		schedules := scraperSchedules(c)
		if len(schedules) == 0 {
			fmt.Println("no schedules configured")
			return nil
		}

		sched := scheduler.New(nil)
		names := make([]string, 0, len(schedules))
		for name := range schedules {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			spec := schedules[name]
			if err := sched.Validate(spec); err != nil {
				fmt.Printf("❌ %-25s %s (%v)\n", name, spec, err)
				continue
			}
			fmt.Printf("✅ %-25s %s\n", name, spec)
		}
		return nil
	},
}

var scheduleValidateCmd = &cobra.Command{
	Use:   "validate [expression]",
	Short: "Validate a cron expression, or all configured schedules",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sched := scheduler.New(nil)
		if len(args) == 1 {
			if err := sched.Validate(args[0]); err != nil {
				return err
			}
			fmt.Printf("✅ %s\n", args[0])
			return nil
		}

		c, err := container.Get()
		if err != nil {
			return err
		}
		invalid := 0
		for name, spec := range scraperSchedules(c) {
			if err := sched.Validate(spec); err != nil {
				fmt.Printf("❌ %s: %v\n", name, err)
				invalid++
			}
		}
		if invalid > 0 {
			return fmt.Errorf("%d invalid schedule(s)", invalid)
		}
		fmt.Println("✅ all schedules valid")
		return nil
	},
}

var scheduleStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Run schedules in the foreground until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := container.Get()
		if err != nil {
			return err
		}
		schedules := scraperSchedules(c)
		if len(schedules) == 0 {
			return fmt.Errorf("no schedules configured; set scrapers.<name>.schedule in settings")
		}

		sched := c.Scheduler(func(ctx context.Context, name string) error {
			return runScraper(ctx, name)
		})
		for _, err := range sched.Apply(schedules) {
			fmt.Printf("⚠️  %v\n", err)
		}
		sched.Start()
		defer sched.Stop()

		entries := sched.Entries()
		if len(entries) == 0 {
			return fmt.Errorf("no valid schedules to run")
		}
		fmt.Printf("⏰ scheduler running with %d schedule(s):\n", len(entries))
		for _, entry := range entries {
			fmt.Printf("   • %-25s %-15s next %s\n",
				entry.Scraper, entry.Spec, entry.Next.Local().Format("2006-01-02 15:04"))
		}

		stop := make(chan os.Signal, 1)
		signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
		<-stop
		fmt.Println("\nshutting down")
		return nil
	},
}

// scraperSchedules collects the non-empty cron specs from the settings file.
func scraperSchedules(c *container.Container) map[string]string {
	schedules := make(map[string]string)
	for name, sc := range c.Settings().Current().Scrapers {
		if sc.Schedule != "" {
			schedules[name] = sc.Schedule
		}
	}
	return schedules
}

func init() {
	scheduleCmd.AddCommand(scheduleListCmd)
	scheduleCmd.AddCommand(scheduleValidateCmd)
	scheduleCmd.AddCommand(scheduleStartCmd)
	RootCmd.AddCommand(scheduleCmd)
}
