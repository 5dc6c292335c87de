// services/scheduler.go
package services

import (
	"log"
	"time"

	"spot-discovery-system/models"

	"github.com/go-co-op/gocron/v2"
)

func (s *ReportService) StartMaintenanceScheduler() {
	sched, _ := gocron.NewScheduler()
	sched.Start()

	// Every 15 minutes: escalate spots with aging unreviewed reports
	_, _ = sched.NewJob(
		gocron.DurationJob(15*time.Minute),
		gocron.NewTask(func() {
			if err := s.RescanAgingReports(); err != nil {
				log.Printf("[Scheduler] Report rescan failed: %v", err)
			}
		}),
	)

	// Daily: deactivate expired rewards
	_, _ = sched.NewJob(
		gocron.DurationJob(24*time.Hour),
		gocron.NewTask(func() {
			res := s.DB.Model(&models.Reward{}).
				Where("active = ? AND expires_at IS NOT NULL AND expires_at < ?", true, time.Now()).
				Update("active", false)
			if res.Error != nil {
				log.Printf("[Scheduler] Reward expiry sweep failed: %v", res.Error)
				return
			}
			if res.RowsAffected > 0 {
				log.Printf("✅ Deactivated %d expired reward(s)", res.RowsAffected)
			}
		}),
	)
}
