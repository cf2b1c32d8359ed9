package port

import "github.com/dreschagin/device-lifecycle/internal/application/dto"

// NotificationService рассылает обновления подключенным клиентам (Port).
// Реализация - WebSocket Hub.
type NotificationService interface {
	// BroadcastProfile отправляет новый профиль устройства после события
	BroadcastProfile(update *dto.ProfileUpdateDTO)

	// BroadcastAnalysis отправляет завершенный анализ
	BroadcastAnalysis(analysis *dto.AnalysisDTO)

	// ClientCount возвращает количество подключенных клиентов
	ClientCount() int
}
