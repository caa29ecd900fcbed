// Пакет config отвечает за сбор и предоставление конфигурации всего приложения.
// Конфигурация разделена на два слоя:
//  1. переменные окружения из .env (через godotenv) — операционные настройки
//     процесса: путь к YAML-конфигу, уровень логирования, файловый журнал;
//  2. YAML-документ (config.yaml) — предметные настройки бота: учётные данные
//     инстанса, параметры парсеров, источники, профили фильтров, janitor.
//
// Оба слоя загружаются один раз в main и передаются компонентам явно.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// EnvConfig описывает параметры, приходящие из окружения (.env). Это «операционные»
// настройки запуска: путь к конфигурационному файлу, лог-уровень и параметры
// файлового журнала с ротацией.
//
// NB: значения уже проходят минимальную валидацию и нормализацию в LoadEnv.
// В рантайме по месту использования предполагается, что EnvConfig последователен.
type EnvConfig struct {
	ConfigFile string
	LogLevel   string
	// Файловое логирование (LOG_FILE не имеет дефолта — задаётся явно для активации)
	LogFile           string
	LogFileLevel      string
	LogFileMaxSize    int
	LogFileMaxBackups int
	LogFileMaxAge     int
	LogFileCompress   bool
	// warnings — предупреждения, накопленные при чтении окружения.
	warnings []string
}

// Значения по умолчанию для параметров окружения.
const (
	defaultLogLevel          = "info"
	defaultConfigFile        = "config.yaml"
	defaultLogFileLevel      = "debug"
	defaultLogFileMaxSize    = 50
	defaultLogFileMaxBackups = 3
	defaultLogFileMaxAge     = 7
	defaultLogFileCompress   = true
)

// LoadEnv читает .env и формирует EnvConfig.
// Если envPath пуст, берётся файл .env в рабочей директории, а его отсутствие
// не считается ошибкой. Явно указанный файл обязан существовать.
func LoadEnv(envPath string) (EnvConfig, error) {
	if envPath == "" {
		_ = godotenv.Load()
	} else if err := godotenv.Load(envPath); err != nil {
		return EnvConfig{}, fmt.Errorf("load env file %s: %w", envPath, err)
	}

	var warnings []string

	env := EnvConfig{
		ConfigFile:        stringDefault(os.Getenv("CONFIG_FILE"), defaultConfigFile),
		LogLevel:          sanitizeLogLevel("LOG_LEVEL", os.Getenv("LOG_LEVEL"), defaultLogLevel, &warnings),
		LogFile:           strings.TrimSpace(os.Getenv("LOG_FILE")),
		LogFileLevel:      sanitizeLogLevel("LOG_FILE_LEVEL", os.Getenv("LOG_FILE_LEVEL"), defaultLogFileLevel, &warnings),
		LogFileMaxSize:    parseIntDefault("LOG_FILE_MAX_SIZE_MB", defaultLogFileMaxSize, greaterThanZero, &warnings),
		LogFileMaxBackups: parseIntDefault("LOG_FILE_MAX_BACKUPS", defaultLogFileMaxBackups, nonNegative, &warnings),
		LogFileMaxAge:     parseIntDefault("LOG_FILE_MAX_AGE_DAYS", defaultLogFileMaxAge, nonNegative, &warnings),
		LogFileCompress:   parseBoolDefault("LOG_FILE_COMPRESS", defaultLogFileCompress, &warnings),
	}
	env.warnings = warnings

	return env, nil
}

// Warnings возвращает накопленные предупреждения, возникшие при загрузке .env
// (например, когда подставлено значение по умолчанию). Возвращается копия.
func (e EnvConfig) Warnings() []string {
	result := make([]string, len(e.warnings))
	copy(result, e.warnings)
	return result
}

// parseIntDefault читает name как int. Если пусто/некорректно/не проходит
// дополнительную проверку validator — возвращает defaultVal и пишет предупреждение.
// Это позволяет не падать на несущественных настройках и иметь дефолты.
func parseIntDefault(name string, defaultVal int, validator func(int) bool, warnings *[]string) int {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(value)
	if err != nil {
		appendWarningf(warnings, "env %s value %q is not a valid integer; using default %d", name, value, defaultVal)
		return defaultVal
	}
	if validator != nil && !validator(v) {
		appendWarningf(warnings, "env %s value %d does not satisfy constraints; using default %d", name, v, defaultVal)
		return defaultVal
	}
	return v
}

// parseBoolDefault читает name как bool. Если пусто/некорректно — возвращает defaultVal
// и пишет предупреждение.
func parseBoolDefault(name string, defaultVal bool, warnings *[]string) bool {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return defaultVal
	}
	v, err := strconv.ParseBool(value)
	if err != nil {
		appendWarningf(warnings, "env %s value %q is not a valid boolean; using default %v", name, value, defaultVal)
		return defaultVal
	}
	return v
}

// sanitizeLogLevel нормализует уровень логирования и ограничивает значения набором
// {debug, info, warn, error}. Всё остальное превращается в defaultVal.
func sanitizeLogLevel(name, level, defaultVal string, warnings *[]string) string {
	lvl := strings.ToLower(strings.TrimSpace(level))
	if lvl == "" {
		return defaultVal
	}
	switch lvl {
	case "debug", "info", "warn", "error":
		return lvl
	default:
		appendWarningf(warnings, "env %s value %q is invalid; using default %q", name, level, defaultVal)
		return defaultVal
	}
}

// stringDefault возвращает обрезанное значение либо fallback, если оно пусто.
func stringDefault(value, fallback string) string {
	v := strings.TrimSpace(value)
	if v == "" {
		return fallback
	}
	return v
}

// appendWarningf — служебная функция для накопления предупреждений о некорректных
// переменных окружения. Список затем доступен через Warnings().
func appendWarningf(warnings *[]string, format string, args ...any) {
	if warnings == nil {
		return
	}
	*warnings = append(*warnings, fmt.Sprintf(format, args...))
}

// greaterThanZero / nonNegative — простые валидаторы чисел. Используются в
// parseIntDefault, чтобы навязать смысловые ограничения без падения приложения.
func greaterThanZero(v int) bool { return v > 0 }
func nonNegative(v int) bool     { return v >= 0 }
