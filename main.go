package main

import (
	"log"
	"net/http"
	"os"

	"github.com/abhirockzz/cosmosdb-go-sdk-helper/auth"
	"github.com/abhirockzz/livestock-chat-assistant/cosmosdb"
	"github.com/abhirockzz/livestock-chat-assistant/server"
	"github.com/tmc/langchaingo/llms/openai"
)

func main() {
	tokens, err := server.ParseStaticTokens(os.Getenv("CHAT_API_TOKENS"))
	if err != nil {
		log.Fatalf("CHAT_API_TOKENS: %v", err)
	}

	var repo server.Repository
	switch storeKind := os.Getenv("CHAT_STORE"); storeKind {
	case "memory":
		log.Printf("Using in-memory conversation store")
		repo = server.NewMemoryRepository()
	case "", "cosmos":
		repo = cosmosRepository()
	default:
		log.Fatalf("CHAT_STORE must be memory or cosmos, got %q", storeKind)
	}

	azOpenAIEndpoint := os.Getenv("AZURE_OPENAI_ENDPOINT")
	if azOpenAIEndpoint == "" {
		log.Fatalf("AZURE_OPENAI_ENDPOINT environment variable is not set")
	}

	azOpenAIKey := os.Getenv("AZURE_OPENAI_KEY")
	if azOpenAIKey == "" {
		log.Fatalf("AZURE_OPENAI_KEY environment variable is not set")
	}

	modelName := os.Getenv("AZURE_OPENAI_MODEL_NAME")
	if modelName == "" {
		log.Fatalf("AZURE_OPENAI_MODEL_NAME environment variable is not set")
	}

	// Initialize the Azure OpenAI LLM
	llm, err := openai.New(
		openai.WithAPIType(openai.APITypeAzure),
		openai.WithBaseURL(azOpenAIEndpoint),
		openai.WithToken(azOpenAIKey),
		openai.WithModel(modelName),
		// an embedding model is not actually required but has been added because langchaingo requires it
		openai.WithEmbeddingModel("dummy_value"),
	)
	if err != nil {
		log.Fatalf("Failed to initialize Azure OpenAI LLM: %v", err)
	}

	app := server.New(repo, llm)

	mux := http.NewServeMux()
	mux.Handle("/api/", http.StripPrefix("/api", app.Routes(tokens)))

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	log.Printf("Web server starting on port %s...\n", port)
	log.Fatal(http.ListenAndServe(":"+port, mux))
}

func cosmosRepository() server.Repository {
	databaseName := os.Getenv("COSMOSDB_DATABASE_NAME")
	if databaseName == "" {
		log.Fatalf("COSMOSDB_DATABASE_NAME environment variable is not set")
	}

	containerName := os.Getenv("COSMOSDB_CONTAINER_NAME")
	if containerName == "" {
		log.Fatalf("COSMOSDB_CONTAINER_NAME environment variable is not set")
	}

	cosmosDBEndpoint := os.Getenv("COSMOSDB_ENDPOINT_URL")
	if cosmosDBEndpoint == "" {
		log.Fatalf("COSMOSDB_ENDPOINT_URL environment variable is not set")
	}

	client, err := auth.GetCosmosDBClient(cosmosDBEndpoint, os.Getenv("COSMOSDB_EMULATOR") == "true", nil)
	if err != nil {
		log.Fatal(err)
	}

	store, err := cosmosdb.New(client, databaseName, containerName)
	if err != nil {
		log.Fatalf("Failed to open conversation store: %v", err)
	}
	return server.NewCosmosRepository(store)
}
