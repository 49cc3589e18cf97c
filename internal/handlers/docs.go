package handlers

import (
	"encoding/json"
	"net/http"
)

func pathParam(name, description, typ string) map[string]interface{} {
	schema := map[string]string{"type": typ}
	if name == "date" {
		schema["format"] = "date"
	}
	return map[string]interface{}{
		"name":        name,
		"in":          "path",
		"description": description,
		"required":    true,
		"schema":      schema,
	}
}

func queryParam(name, description string, schema map[string]interface{}, required bool) map[string]interface{} {
	return map[string]interface{}{
		"name":        name,
		"in":          "query",
		"description": description,
		"required":    required,
		"schema":      schema,
	}
}

func jsonResponse(description, schemaRef string) map[string]interface{} {
	return map[string]interface{}{
		"description": description,
		"content": map[string]interface{}{
			"application/json": map[string]interface{}{
				"schema": map[string]string{"$ref": "#/components/schemas/" + schemaRef},
			},
		},
	}
}

func getOperation(summary, description string, params []map[string]interface{}, responses map[string]interface{}) map[string]interface{} {
	op := map[string]interface{}{
		"summary":     summary,
		"description": description,
		"responses":   responses,
	}
	if len(params) > 0 {
		op["parameters"] = params
	}
	return map[string]interface{}{"get": op}
}

// OpenAPISpec returns the OpenAPI 3.0 document of the read API
func OpenAPISpec(w http.ResponseWriter, r *http.Request) {
	errorResponse := func(description string) map[string]interface{} {
		return jsonResponse(description, "ErrorResponse")
	}
	locationID := pathParam("id", "Location ID", "integer")
	dateParam := map[string]interface{}{"type": "string", "format": "date"}

	spec := map[string]interface{}{
		"openapi": "3.0.0",
		"info": map[string]interface{}{
			"title":       "Vivarium API",
			"description": "Read access to stored weather history and enclosure device state",
			"version":     "1.0.0",
		},
		"servers": []map[string]string{
			{"url": "http://localhost:8080", "description": "Local development server"},
		},
		"paths": map[string]interface{}{
			"/api/locations": getOperation(
				"List locations",
				"Every location weather data has been stored for",
				nil,
				map[string]interface{}{
					"200": jsonResponse("Locations", "ListResponse"),
					"500": errorResponse("Internal server error"),
				},
			),
			"/api/locations/{id}/forecast": getOperation(
				"List forecast days",
				"Dates stored for a location, newest first",
				[]map[string]interface{}{locationID},
				map[string]interface{}{
					"200": jsonResponse("Forecast days", "ListResponse"),
					"400": errorResponse("Invalid location ID"),
					"404": errorResponse("Location not found"),
				},
			),
			"/api/locations/{id}/summary": getOperation(
				"Summarize a location",
				"Averages and totals of the daily rows between from and to inclusive",
				[]map[string]interface{}{
					locationID,
					queryParam("from", "First date (YYYY-MM-DD)", dateParam, true),
					queryParam("to", "Last date (YYYY-MM-DD)", dateParam, true),
				},
				map[string]interface{}{
					"200": jsonResponse("Climate summary", "ClimateSummary"),
					"400": errorResponse("Invalid or reversed date range"),
					"404": errorResponse("Location not found"),
				},
			),
			"/api/forecast/{location_id}/{date}": getOperation(
				"Get a forecast day",
				"Day aggregates, astro data, hourly rows and the conditions they reference",
				[]map[string]interface{}{
					pathParam("location_id", "Location ID", "integer"),
					pathParam("date", "Forecast date (YYYY-MM-DD)", "string"),
				},
				map[string]interface{}{
					"200": jsonResponse("Forecast day", "ForecastDetail"),
					"400": errorResponse("Invalid location ID or date"),
					"404": errorResponse("Location or forecast day not found"),
				},
			),
			"/api/devices": getOperation(
				"List devices",
				"Every registered enclosure device",
				nil,
				map[string]interface{}{
					"200": jsonResponse("Devices", "ListResponse"),
				},
			),
			"/api/devices/{name}/status": getOperation(
				"Get device status",
				"Latest status of a device and optionally its recent history",
				[]map[string]interface{}{
					pathParam("name", "Device name, e.g. grow_light", "string"),
					queryParam("history", "Number of history rows to include (max 1000)",
						map[string]interface{}{"type": "integer", "default": 0}, false),
				},
				map[string]interface{}{
					"200": jsonResponse("Device status", "DeviceStatusResponse"),
					"404": errorResponse("Device not found"),
				},
			),
			"/health": getOperation(
				"Health check",
				"Reports whether the database is reachable",
				nil,
				map[string]interface{}{
					"200": map[string]string{"description": "Healthy"},
					"503": map[string]string{"description": "Database unreachable"},
				},
			),
		},
		"components": map[string]interface{}{
			"schemas": map[string]interface{}{
				"ErrorResponse": map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"error":   map[string]string{"type": "string"},
						"message": map[string]string{"type": "string"},
						"code":    map[string]string{"type": "integer"},
					},
				},
				"ListResponse": map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"data":  map[string]string{"type": "array"},
						"total": map[string]string{"type": "integer"},
					},
				},
				"ClimateSummary": map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"location_id":     map[string]string{"type": "integer"},
						"from":            map[string]string{"type": "string", "format": "date-time"},
						"to":              map[string]string{"type": "string", "format": "date-time"},
						"days":            map[string]string{"type": "integer"},
						"avg_maxtemp_c":   map[string]string{"type": "number"},
						"avg_mintemp_c":   map[string]string{"type": "number"},
						"avg_humidity":    map[string]string{"type": "number"},
						"total_precip_mm": map[string]string{"type": "number"},
						"max_uv":          map[string]string{"type": "number"},
					},
				},
				"ForecastDetail": map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"location":   map[string]string{"type": "object"},
						"date":       map[string]string{"type": "string", "format": "date"},
						"day":        map[string]string{"type": "object"},
						"astro":      map[string]string{"type": "object"},
						"hours":      map[string]string{"type": "array"},
						"conditions": map[string]string{"type": "array"},
					},
				},
				"DeviceStatusResponse": map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"device":  map[string]string{"type": "object"},
						"latest":  map[string]string{"type": "object"},
						"history": map[string]string{"type": "array"},
					},
				},
			},
		},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(spec)
}
