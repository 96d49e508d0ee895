package statistics

import (
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/JonasWeber/AgeGuard/app/models"
	"github.com/JonasWeber/AgeGuard/internal/pkg/cache"
	"github.com/JonasWeber/AgeGuard/internal/pkg/database"
)

const (
	CacheKeyRecordsTotal = "statistics:records:total"
	CacheKeyRecordsDaily = "statistics:records:daily:%s" // Format with date YYYY-MM-DD
	CacheKeyShops        = "statistics:shops:total"
	CacheExpiration      = 30 * time.Minute
)

// StatisticsData enthält die aggregierten Kennzahlen für die Statusseite
type StatisticsData struct {
	TodayRecords int
	TotalRecords int
	TotalShops   int
}

// Variablen für die Cache-Aktualisierungslogik
var (
	lastCacheUpdate     time.Time
	cacheUpdateMutex    sync.Mutex
	cacheUpdateInterval = 5 * time.Minute
)

// ShouldUpdateCache prüft, ob der Cache aktualisiert werden sollte
func ShouldUpdateCache() bool {
	cacheUpdateMutex.Lock()
	defer cacheUpdateMutex.Unlock()

	return time.Since(lastCacheUpdate) > cacheUpdateInterval
}

// UpdateCacheIfNeeded aktualisiert den Cache, wenn nötig
func UpdateCacheIfNeeded() {
	if ShouldUpdateCache() {
		cacheUpdateMutex.Lock()
		defer cacheUpdateMutex.Unlock()

		log.Println("Aktualisiere Statistik-Cache...")
		if err := UpdateStatisticsCache(); err != nil {
			log.Printf("Fehler beim Aktualisieren des Statistik-Caches: %v", err)
		} else {
			log.Println("Statistik-Cache erfolgreich aktualisiert")
			lastCacheUpdate = time.Now()
		}
	}
}

// ResetCacheUpdateTimer setzt den Timer für die Cache-Aktualisierung zurück
func ResetCacheUpdateTimer() {
	cacheUpdateMutex.Lock()
	defer cacheUpdateMutex.Unlock()

	lastCacheUpdate = time.Time{}
}

// UpdateStatisticsCache updates all statistics in the cache
func UpdateStatisticsCache() error {
	db := database.GetDB()

	var totalRecords int64
	if err := db.Model(&models.VerificationRecord{}).Count(&totalRecords).Error; err != nil {
		log.Printf("Error counting total records: %v", err)
		return err
	}

	var todayRecords int64
	today := time.Now().Format("2006-01-02")
	todayStart, _ := time.Parse("2006-01-02", today)
	todayEnd := todayStart.Add(24 * time.Hour)

	if err := db.Model(&models.VerificationRecord{}).Where("created_at BETWEEN ? AND ?", todayStart, todayEnd).Count(&todayRecords).Error; err != nil {
		log.Printf("Error counting today's records: %v", err)
		return err
	}

	var totalShops int64
	if err := db.Model(&models.Shop{}).Count(&totalShops).Error; err != nil {
		log.Printf("Error counting total shops: %v", err)
		return err
	}

	if err := cache.Set(CacheKeyRecordsTotal, strconv.FormatInt(totalRecords, 10), CacheExpiration); err != nil {
		log.Printf("Error caching total records: %v", err)
		return err
	}

	dailyKey := fmt.Sprintf(CacheKeyRecordsDaily, today)
	if err := cache.Set(dailyKey, strconv.FormatInt(todayRecords, 10), CacheExpiration); err != nil {
		log.Printf("Error caching today's records: %v", err)
		return err
	}

	if err := cache.Set(CacheKeyShops, strconv.FormatInt(totalShops, 10), CacheExpiration); err != nil {
		log.Printf("Error caching total shops: %v", err)
		return err
	}

	log.Printf("Statistics updated in cache: Total Records: %d, Today's Records: %d, Total Shops: %d",
		totalRecords, todayRecords, totalShops)

	return nil
}

// GetStatistics assembles the cached values, falling back to the database
// for anything missing.
func GetStatistics() StatisticsData {
	return StatisticsData{
		TodayRecords: getCachedCount(fmt.Sprintf(CacheKeyRecordsDaily, time.Now().Format("2006-01-02")), countTodayRecords),
		TotalRecords: getCachedCount(CacheKeyRecordsTotal, countTotalRecords),
		TotalShops:   getCachedCount(CacheKeyShops, countTotalShops),
	}
}

func getCachedCount(key string, fallback func() (int64, error)) int {
	val, err := cache.Get(key)
	if err == nil {
		if count, perr := strconv.Atoi(val); perr == nil {
			return count
		}
	}

	count, err := fallback()
	if err != nil {
		log.Printf("Error counting for %s: %v", key, err)
		return 0
	}

	if err := cache.Set(key, strconv.FormatInt(count, 10), CacheExpiration); err != nil {
		log.Printf("Error caching %s: %v", key, err)
	}
	return int(count)
}

func countTotalRecords() (int64, error) {
	var count int64
	err := database.GetDB().Model(&models.VerificationRecord{}).Count(&count).Error
	return count, err
}

func countTodayRecords() (int64, error) {
	today := time.Now().Format("2006-01-02")
	todayStart, _ := time.Parse("2006-01-02", today)
	todayEnd := todayStart.Add(24 * time.Hour)

	var count int64
	err := database.GetDB().Model(&models.VerificationRecord{}).
		Where("created_at BETWEEN ? AND ?", todayStart, todayEnd).Count(&count).Error
	return count, err
}

func countTotalShops() (int64, error) {
	var count int64
	err := database.GetDB().Model(&models.Shop{}).Count(&count).Error
	return count, err
}
