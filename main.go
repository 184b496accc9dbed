package main

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	logger "github.com/sirupsen/logrus"

	"orderengine/src/database"
	"orderengine/src/server"
	"orderengine/src/utils"
)

var APP_NAME = "order-engine"

func main() {
	// .env is optional; real environment variables win.
	_ = godotenv.Load()
	utils.SetupLogger(os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT"))
	if name := os.Getenv("APP_NAME"); name != "" {
		APP_NAME = name
	}
	defer handlePanic()

	// Initialize main (read/write) database
	if err := database.InitMainDB(); err != nil {
		logger.WithError(err).Fatal("Failed to connect to database")
	}
	defer func() {
		if err := database.Close(); err != nil {
			logger.WithError(err).Error("Failed to close database")
		}
	}()

	if err := server.StartServer(); err != nil {
		logger.WithError(err).Error("Server stopped with error")
	}
}

func handlePanic() {
	if r := recover(); r != nil {
		logger.WithError(fmt.Errorf("%+v", r)).Error(fmt.Sprintf("Application %s panic", APP_NAME))
		//nolint
		time.Sleep(time.Second * 5)
	}
}
