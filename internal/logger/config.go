// internal/logger/config.go
package logger

type Config struct {
	LogFile     string `mapstructure:"file"`
	Level       string `mapstructure:"level"`
	MaxSize     int    `mapstructure:"max_size"`    // мегабайты
	MaxAge      int    `mapstructure:"max_age"`     // дни
	MaxBackups  int    `mapstructure:"max_backups"` // количество файлов
	Compress    bool   `mapstructure:"compress"`    // сжимать ротированные файлы
	Console     bool   `mapstructure:"console"`     // дублировать в stderr
	Pretty      bool   `mapstructure:"pretty"`      // цветной вывод в консоль
	Development bool   `mapstructure:"development"`
}

// DefaultConfig возвращает конфигурацию по умолчанию
func DefaultConfig() *Config {
	return &Config{
		LogFile:     "launchpad.log",
		Level:       "info",
		MaxSize:     100,  // 100 MB
		MaxAge:      7,    // 7 дней
		MaxBackups:  3,    // 3 файла
		Compress:    true, // сжимать старые логи
		Console:     true,
		Development: false,
	}
}
