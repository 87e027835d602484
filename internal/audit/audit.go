// Package audit публикует переходы статусов заказов во внешний журнал событий.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"
)

// Record описывает один переход статуса заказа.
type Record struct {
	At      time.Time `json:"at"`
	OrderID string    `json:"orderId"`
	UserID  string    `json:"userId"`
	From    string    `json:"from"`
	To      string    `json:"to"`
}

// Publisher публикует пачку записей аудита.
type Publisher interface {
	Publish(batch []Record) error
}

// KafkaPublisher публикует записи аудита в топик Kafka.
type KafkaPublisher struct {
	producer sarama.SyncProducer
	topic    string
}

// NewKafkaPublisher создаёт продюсер для указанных брокеров и топика.
func NewKafkaPublisher(brokers []string, topic string) (*KafkaPublisher, error) {
	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	config.Producer.Timeout = 5 * time.Second

	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("new kafka producer: %w", err)
	}

	return &KafkaPublisher{producer: producer, topic: topic}, nil
}

// Publish отправляет пачку записей одним запросом.
func (p *KafkaPublisher) Publish(batch []Record) error {
	msgs := make([]*sarama.ProducerMessage, 0, len(batch))
	for _, rec := range batch {
		payload, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("marshal record: %w", err)
		}
		msgs = append(msgs, &sarama.ProducerMessage{
			Topic: p.topic,
			Key:   sarama.StringEncoder(rec.OrderID),
			Value: sarama.ByteEncoder(payload),
		})
	}

	if err := p.producer.SendMessages(msgs); err != nil {
		return fmt.Errorf("send messages: %w", err)
	}
	return nil
}

// Close закрывает продюсер.
func (p *KafkaPublisher) Close() error {
	return p.producer.Close()
}

// PoolConfig задаёт параметры пула аудита.
type PoolConfig struct {
	BatchSize     int
	FlushInterval time.Duration
	QueueSize     int
}

// Pool накапливает записи аудита и публикует их пачками в фоне.
// Запись не блокирует вызывающую сторону: при заполненной очереди запись отбрасывается.
type Pool struct {
	input         chan Record
	publishers    []Publisher
	batchSize     int
	flushInterval time.Duration
	logger        *zap.Logger

	wg sync.WaitGroup
}

// NewPool создаёт пул аудита с указанными издателями.
func NewPool(cfg PoolConfig, logger *zap.Logger, publishers ...Publisher) *Pool {
	return &Pool{
		input:         make(chan Record, cfg.QueueSize),
		publishers:    publishers,
		batchSize:     cfg.BatchSize,
		flushInterval: cfg.FlushInterval,
		logger:        logger,
	}
}

// Start запускает воркеры пула. Воркеры завершаются по отмене контекста,
// сбросив накопленную пачку.
func (p *Pool) Start(ctx context.Context, workers int) {
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.worker(ctx)
		}()
	}
}

func (p *Pool) worker(ctx context.Context) {
	var batch []Record
	timer := time.NewTimer(p.flushInterval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			if len(batch) > 0 {
				p.publishBatch(batch)
			}
			return
		case rec := <-p.input:
			batch = append(batch, rec)
			if len(batch) >= p.batchSize {
				if !timer.Stop() {
					<-timer.C
				}
				p.publishBatch(batch)
				batch = nil
				timer.Reset(p.flushInterval)
			}
		case <-timer.C:
			if len(batch) > 0 {
				p.publishBatch(batch)
				batch = nil
			}
			timer.Reset(p.flushInterval)
		}
	}
}

func (p *Pool) publishBatch(batch []Record) {
	for _, pub := range p.publishers {
		if err := pub.Publish(batch); err != nil {
			p.logger.Error("publish audit batch", zap.Int("size", len(batch)), zap.Error(err))
		}
	}
}

// Record ставит запись в очередь аудита без блокировки.
func (p *Pool) Record(rec Record) {
	select {
	case p.input <- rec:
	default:
		p.logger.Warn("audit queue full, dropping record", zap.String("order", rec.OrderID))
	}
}

// Wait дожидается завершения воркеров после отмены контекста.
func (p *Pool) Wait() {
	p.wg.Wait()
}
