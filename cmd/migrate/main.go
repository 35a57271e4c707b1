package main

import (
	"context"
	"flag"
	"fmt"
	"log"

	"hireflow/internal/config"
	"hireflow/internal/models"
	"hireflow/internal/services"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func main() {
	seed := flag.Bool("seed", false, "seed the built-in automation template catalog")
	flag.Parse()

	// 加载配置
	viper.AddConfigPath(".")
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AutomaticEnv()
	_ = viper.ReadInConfig()
	cfg := config.Load()
	if cfg.Database.Host == "" {
		cfg = config.GetDefaultConfig()
	}

	// 连接数据库
	dsn := fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%d sslmode=disable TimeZone=UTC",
		cfg.Database.Host, cfg.Database.User, cfg.Database.Password, cfg.Database.Name, cfg.Database.Port,
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Info),
	})
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	log.Println("Starting database migration...")

	// 自动迁移所有模型
	err = db.AutoMigrate(
		&models.Candidate{},
		&models.Job{},
		&models.Application{},
		&models.CandidateNote{},
		&models.Automation{},
		&models.AutomationRun{},
		&models.ActionOutcome{},
		&models.ScheduledAction{},
		&models.AutomationTemplate{},
	)
	if err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}

	log.Println("Database migration completed successfully!")

	// 创建索引
	log.Println("Creating additional indexes...")

	// 自动化按触发类型筛选激活规则
	db.Exec("CREATE INDEX IF NOT EXISTS idx_automations_trigger_active ON automations(trigger_type, is_active)")

	// 执行记录按自动化回查
	db.Exec("CREATE INDEX IF NOT EXISTS idx_automation_runs_automation_created ON automation_runs(automation_id, created_at)")
	db.Exec("CREATE INDEX IF NOT EXISTS idx_action_outcomes_run ON action_outcomes(run_id)")

	// 延迟队列轮询
	db.Exec("CREATE INDEX IF NOT EXISTS idx_scheduled_actions_status_due ON scheduled_actions(status, due_at)")
	db.Exec("CREATE INDEX IF NOT EXISTS idx_scheduled_actions_automation ON scheduled_actions(automation_id)")

	// 招聘流水线查询
	db.Exec("CREATE INDEX IF NOT EXISTS idx_applications_status_stage ON applications(status, stage)")
	db.Exec("CREATE INDEX IF NOT EXISTS idx_applications_candidate ON applications(candidate_id)")
	db.Exec("CREATE INDEX IF NOT EXISTS idx_candidate_notes_candidate ON candidate_notes(candidate_id)")

	log.Println("Indexes created successfully!")

	if *seed {
		log.Println("Seeding automation templates...")
		templates := services.NewTemplateService(db, logrus.StandardLogger())
		if err := templates.Seed(context.Background()); err != nil {
			log.Fatalf("Failed to seed templates: %v", err)
		}
		log.Println("Templates seeded successfully!")
	}
}
