package models

import "time"

const (
	// DefaultSaleIDPrefix префикс id_global по умолчанию
	DefaultSaleIDPrefix = "V"

	// SaleIDSuffixLen длина случайного суффикса id_global
	SaleIDSuffixLen = 12

	// BackgroundSyncTag тег фоновой задачи синхронизации
	BackgroundSyncTag = "sync-sales"

	// RetryFloorDelay минимальная задержка повтора
	RetryFloorDelay = 5 * time.Second

	// RetryMaxDelay максимальная задержка повтора
	RetryMaxDelay = 300 * time.Second

	// RetryBackoffFactor множитель задержки
	RetryBackoffFactor = 2.0

	// StatusChannel канал Redis для статусов синхронизации
	StatusChannel = "salesync:status"

	// BackgroundTagsKey ключ Redis с зарегистрированными фоновыми задачами
	BackgroundTagsKey = "salesync:bgsync:tags"

	// DefaultProbeInterval период проверки сети
	DefaultProbeInterval = 15 * time.Second

	// DefaultBackgroundPoll период опроса фонового обработчика
	DefaultBackgroundPoll = 30 * time.Second

	// SheetsCacheTTL время жизни кэша строк Google Sheets
	SheetsCacheTTL = 60 * 60 // 1 час в секундах
)
