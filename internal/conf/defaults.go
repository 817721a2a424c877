// conf/defaults.go default values for settings
package conf

import (
	"time"

	"github.com/spf13/viper"
)

// Sets default values for the configuration.
func setDefaultConfig() {
	viper.SetDefault("debug", false)

	viper.SetDefault("main.name", "bibscan")
	viper.SetDefault("main.log.enabled", true)
	viper.SetDefault("main.log.path", "bibscan.log")

	viper.SetDefault("database.sqlite.enabled", true)
	viper.SetDefault("database.sqlite.path", "bibscan.db")
	viper.SetDefault("database.mysql.enabled", false)
	viper.SetDefault("database.mysql.username", "bibscan")
	viper.SetDefault("database.mysql.password", "")
	viper.SetDefault("database.mysql.database", "bibscan")
	viper.SetDefault("database.mysql.host", "localhost")
	viper.SetDefault("database.mysql.port", "3306")

	viper.SetDefault("detector.apikey", "")
	viper.SetDefault("detector.modelid", "")
	viper.SetDefault("detector.baseurl", "https://detect.roboflow.com")
	viper.SetDefault("detector.confidencethreshold", 0.5)
	viper.SetDefault("detector.timeout", 45*time.Second)

	viper.SetDefault("recognizer.engine", "ocr")
	viper.SetDefault("recognizer.language", "eng")
	viper.SetDefault("recognizer.croppadding", 20)
	viper.SetDefault("recognizer.scalefactor", 6)

	viper.SetDefault("storage.cloudname", "")
	viper.SetDefault("storage.apikey", "")
	viper.SetDefault("storage.apisecret", "")
	viper.SetDefault("storage.folder", "race-photos")
	viper.SetDefault("storage.timeout", 60*time.Second)

	viper.SetDefault("pipeline.workers", 4)
	viper.SetDefault("pipeline.queuesize", 100)
	viper.SetDefault("pipeline.uploaddir", "uploads")
}
