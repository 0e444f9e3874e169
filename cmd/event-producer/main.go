package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/IBM/sarama"
)

var petNames = []string{
	"Mochi", "Bun", "Kiwi", "Pudding", "Noodle", "Tofu", "Pickle", "Biscuit", "Sprout", "Dumpling",
	"Peanut", "Waffle", "Pebble", "Nugget", "Clover", "Taro", "Maple", "Olive", "Sesame", "Gizmo",
}

func petID(idx int) string {
	return fmt.Sprintf("sim-pet-%04d", idx)
}

func petName(idx int) string {
	return fmt.Sprintf("%s%d", petNames[idx%len(petNames)], idx/len(petNames)+1)
}

// simPet is the producer's view of one synthetic pet
type simPet struct {
	ID        string
	Name      string
	OwnerID   string
	Happiness int
	Hunger    int
	Energy    int
	Health    int
	X, Y      float64
	Direction float64
}

func (p *simPet) alive() bool { return p.Health > 0 }

func (p *simPet) status() string {
	switch {
	case !p.alive():
		return "Dead"
	case p.Hunger > 80:
		return "Starving"
	case p.Energy < 20:
		return "Tired"
	case p.Happiness < 30:
		return "Sad"
	default:
		return "Happy"
	}
}

// createdFrame announces a new pet
func createdFrame(p *simPet) map[string]any {
	return map[string]any{
		"type": "tamagotchi_created",
		"tamagotchi": map[string]any{
			"id":        p.ID,
			"name":      p.Name,
			"owner_id":  p.OwnerID,
			"happiness": p.Happiness,
			"hunger":    p.Hunger,
			"energy":    p.Energy,
			"health":    p.Health,
			"is_alive":  p.alive(),
			"status":    p.status(),
			"position":  map[string]any{"x": p.X, "y": p.Y, "direction": p.Direction},
		},
	}
}

// statsFrame carries the authority-owned stats, without a position
func statsFrame(p *simPet) map[string]any {
	return map[string]any{
		"type": "stats_update",
		"tamagotchi": map[string]any{
			"id":        p.ID,
			"happiness": p.Happiness,
			"hunger":    p.Hunger,
			"energy":    p.Energy,
			"health":    p.Health,
			"is_alive":  p.alive(),
			"status":    p.status(),
		},
	}
}

// positionFrame moves a batch of pets
func positionFrame(pets []*simPet) map[string]any {
	positions := make([]map[string]any, 0, len(pets))
	for _, p := range pets {
		positions = append(positions, map[string]any{
			"id": p.ID, "x": p.X, "y": p.Y, "direction": p.Direction,
		})
	}
	return map[string]any{"type": "position_update", "positions": positions}
}

// tick advances a pet's stats and wanders it across the canvas
func tick(p *simPet, rng *rand.Rand, width, height float64) {
	if !p.alive() {
		return
	}
	p.Hunger = clampInt(p.Hunger+rng.Intn(4), 0, 100)
	p.Energy = clampInt(p.Energy-rng.Intn(3), 0, 100)
	p.Happiness = clampInt(p.Happiness+rng.Intn(5)-3, 0, 100)
	if p.Hunger >= 100 {
		p.Health = clampInt(p.Health-5, 0, 100)
	}

	p.Direction += (rng.Float64() - 0.5) * 0.6
	step := 4 + rng.Float64()*6
	p.X = math.Min(math.Max(p.X+math.Cos(p.Direction)*step, 0), width)
	p.Y = math.Min(math.Max(p.Y+math.Sin(p.Direction)*step, 0), height)
}

func clampInt(v, lo, hi int) int {
	return min(max(v, lo), hi)
}

func main() {
	// Command line flags
	brokers := flag.String("brokers", "localhost:9092", "Kafka brokers (comma-separated)")
	topic := flag.String("topic", "pet-events", "Kafka topic")
	owner := flag.String("owner", "sim-owner", "Owner id for synthetic pets")
	totalPets := flag.Int("pets", 50, "Number of synthetic pets")
	updatesPerSecond := flag.Int("rate", 20, "Stats updates per second")
	moveEvery := flag.Duration("move-every", 250*time.Millisecond, "Interval between position batches")
	width := flag.Float64("width", 800, "Canvas width")
	height := flag.Float64("height", 600, "Canvas height")
	duration := flag.Duration("duration", 0, "Duration to run (0 = forever)")
	flag.Parse()

	brokerList := strings.Split(*brokers, ",")

	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println("  Pet Event Producer")
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Printf("  Brokers:          %s\n", *brokers)
	fmt.Printf("  Topic:            %s\n", *topic)
	fmt.Printf("  Pets:             %d\n", *totalPets)
	fmt.Printf("  Updates/sec:      %d\n", *updatesPerSecond)
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println()

	// Configure Sarama producer
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForLocal
	config.Producer.Compression = sarama.CompressionSnappy
	config.Producer.Flush.Frequency = 50 * time.Millisecond
	config.Producer.Flush.Messages = 50
	config.Producer.Return.Successes = true
	config.Producer.Return.Errors = true

	producer, err := sarama.NewAsyncProducer(brokerList, config)
	if err != nil {
		log.Fatalf("Failed to create producer: %v", err)
	}

	var successCount, errorCount int64
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for range producer.Successes() {
			atomic.AddInt64(&successCount, 1)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		for err := range producer.Errors() {
			atomic.AddInt64(&errorCount, 1)
			log.Printf("Producer error: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan struct{})

	send := func(key string, frame map[string]any) {
		data, err := json.Marshal(frame)
		if err != nil {
			log.Printf("Failed to marshal message: %v", err)
			return
		}
		msg := &sarama.ProducerMessage{
			Topic: *topic,
			Key:   sarama.StringEncoder(key),
			Value: sarama.ByteEncoder(data),
		}
		select {
		case producer.Input() <- msg:
		case <-done:
		}
	}

	shutdown := func(reason string) {
		fmt.Printf("\n\n%s, shutting down...\n", reason)
		close(done)
		producer.AsyncClose()
		wg.Wait()
		fmt.Printf("\n✓ Completed. Sent: %d, Errors: %d\n", atomic.LoadInt64(&successCount), atomic.LoadInt64(&errorCount))
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	pets := make([]*simPet, *totalPets)
	for i := range pets {
		pets[i] = &simPet{
			ID:        petID(i),
			Name:      petName(i),
			OwnerID:   *owner,
			Happiness: 60 + rng.Intn(40),
			Hunger:    rng.Intn(40),
			Energy:    60 + rng.Intn(40),
			Health:    100,
			X:         rng.Float64() * *width,
			Y:         rng.Float64() * *height,
			Direction: rng.Float64() * 2 * math.Pi,
		}
		send(pets[i].ID, createdFrame(pets[i]))
	}
	fmt.Printf("✓ Announced %d pets\n\n", len(pets))
	if len(pets) == 0 || *updatesPerSecond <= 0 {
		shutdown("Nothing to update")
		return
	}

	statsTicker := time.NewTicker(time.Second / time.Duration(*updatesPerSecond))
	defer statsTicker.Stop()
	moveTicker := time.NewTicker(*moveEvery)
	defer moveTicker.Stop()
	reportTicker := time.NewTicker(5 * time.Second)
	defer reportTicker.Stop()

	var endTime time.Time
	if *duration > 0 {
		endTime = time.Now().Add(*duration)
	}

	var updateCount int64
	for {
		select {
		case <-sigChan:
			shutdown("Interrupted")
			return

		case <-statsTicker.C:
			if *duration > 0 && time.Now().After(endTime) {
				shutdown("Duration reached")
				return
			}
			p := pets[rng.Intn(len(pets))]
			tick(p, rng, *width, *height)
			send(p.ID, statsFrame(p))
			atomic.AddInt64(&updateCount, 1)

		case <-moveTicker.C:
			var moving []*simPet
			for _, p := range pets {
				if p.alive() {
					tick(p, rng, *width, *height)
					moving = append(moving, p)
				}
			}
			if len(moving) > 0 {
				send("positions", positionFrame(moving))
			}

		case <-reportTicker.C:
			fmt.Printf("[%s] Updates: %d | Sent: %d | Errors: %d\n",
				time.Now().Format("15:04:05"),
				atomic.LoadInt64(&updateCount),
				atomic.LoadInt64(&successCount),
				atomic.LoadInt64(&errorCount),
			)
		}
	}
}
